package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironclad.dev/dpm/auditlog"
	"ironclad.dev/dpm/db/repository"
	"ironclad.dev/dpm/jirasync"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/service"
)

type testEnv struct {
	server  *httptest.Server
	store   repository.Store
	program *model.Program
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemory()
	svc := service.New(service.Config{Store: store})
	log := auditlog.NewMemory()
	sync := jirasync.New(jirasync.Config{
		Mappings: store, Entities: store, Integrations: store, AuditLog: log,
	})

	e := NewEchoServer(DefaultServerConfig())
	NewHandlers(svc, service.NewReports(svc, nil), sync, store, log).Register(e)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	program := &model.Program{
		Owner:     "pm-1",
		Code:      "F-99",
		Status:    model.ProgramActive,
		StartDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		BAC:       decimal.NewFromInt(1000000),
	}
	require.NoError(t, store.CreateProgram(context.Background(), program))
	return &testEnv{server: server, store: store, program: program}
}

func (env *testEnv) request(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, env.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	res, _ := env.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCalculateScheduleEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := &model.WBSElement{ProgramID: env.program.ID, Path: "1", Level: 1, WBSCode: "1", Name: "Root"}
	require.NoError(t, env.store.CreateWBS(ctx, w))
	a := &model.Activity{ProgramID: env.program.ID, WBSID: w.ID, Code: "A", Duration: 10}
	require.NoError(t, env.store.CreateActivity(ctx, a))

	res, body := env.request(t, http.MethodPost,
		"/programs/"+env.program.ID.String()+"/schedule/calculate", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		ProjectDuration int  `json:"project_duration"`
		FromCache       bool `json:"from_cache"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 10, out.ProjectDuration)
	assert.False(t, out.FromCache)

	res, body = env.request(t, http.MethodPost,
		"/programs/"+env.program.ID.String()+"/schedule/calculate", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.FromCache)
}

func TestMissingProgramIs404(t *testing.T) {
	env := newTestEnv(t)
	res, body := env.request(t, http.MethodGet,
		"/programs/00000000-0000-0000-0000-000000000001/critical-path", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "not_found", e.Code)
}

func TestMalformedIDIs400(t *testing.T) {
	env := newTestEnv(t)
	res, _ := env.request(t, http.MethodGet, "/programs/not-a-uuid/critical-path", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestWebhookEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	integ := &model.JiraIntegration{
		ProgramID:     env.program.ID,
		ProjectKey:    "DPM",
		Enabled:       true,
		WebhookSecret: "hush",
	}
	require.NoError(t, env.store.CreateIntegration(ctx, integ))

	payload := `{"webhookEvent":"jira:issue_updated","issue":{"key":"DPM-1","id":"1","fields":{"summary":"s","project":{"key":"DPM"},"updated":"2026-07-01T10:00:00.000+0000"}}}`

	// Valid signature, unknown mapping: 200 with an ignore action.
	res, body := env.request(t, http.MethodPost, "/webhooks/jira", payload, map[string]string{
		"X-Hub-Signature": jirasync.SignBody("hush", []byte(payload)),
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var resp jirasync.WebhookResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, jirasync.ActionIgnoredNoMapping, resp.Action)

	// Bad signature is the only 401 path.
	res, _ = env.request(t, http.MethodPost, "/webhooks/jira", payload, map[string]string{
		"X-Hub-Signature": "sha256=0000",
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// Unknown project: no secret to verify against, recorded as ignored.
	other := `{"webhookEvent":"jira:issue_updated","issue":{"key":"X-1","id":"2","fields":{"summary":"s","project":{"key":"X"},"updated":"2026-07-01T10:00:00.000+0000"}}}`
	res, body = env.request(t, http.MethodPost, "/webhooks/jira", other, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, jirasync.ActionIgnoredNoIntegration, resp.Action)
}

func TestLevelEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := &model.WBSElement{ProgramID: env.program.ID, Path: "1", Level: 1, WBSCode: "1", Name: "Root"}
	require.NoError(t, env.store.CreateWBS(ctx, w))
	a := &model.Activity{ProgramID: env.program.ID, WBSID: w.ID, Code: "A", Duration: 5}
	b := &model.Activity{ProgramID: env.program.ID, WBSID: w.ID, Code: "B", Duration: 10}
	require.NoError(t, env.store.CreateActivity(ctx, a))
	require.NoError(t, env.store.CreateActivity(ctx, b))
	r := &model.Resource{ProgramID: env.program.ID, Code: "R", Type: model.ResourceLabor, CapacityPerDay: 8}
	require.NoError(t, env.store.CreateResource(ctx, r))
	require.NoError(t, env.store.CreateAssignment(ctx, &model.Assignment{ActivityID: a.ID, ResourceID: r.ID, Units: 1}))
	require.NoError(t, env.store.CreateAssignment(ctx, &model.Assignment{ActivityID: b.ID, ResourceID: r.ID, Units: 1}))

	res, body := env.request(t, http.MethodPost,
		"/programs/"+env.program.ID.String()+"/level/parallel",
		`{"preserve_critical_path":true}`, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		Shifts []json.RawMessage `json:"Shifts"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.NotEmpty(t, out.Shifts)
}
