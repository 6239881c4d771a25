package jirasync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/auditlog"
	"ironclad.dev/dpm/jira"
	"ironclad.dev/dpm/model"
)

// fakeJira is an in-memory Jira side: issues keyed by issue key.
type fakeJira struct {
	issues      map[string]*jira.Issue
	nextID      int
	updateCalls int
	createCalls int
	transitions map[string][]jira.Transition
	failCreate  bool
	failTransition bool
	lastParent  string
}

func newFakeJira() *fakeJira {
	return &fakeJira{issues: map[string]*jira.Issue{}, transitions: map[string][]jira.Transition{}}
}

func (f *fakeJira) newIssue(summary, status, updated string) *jira.Issue {
	f.nextID++
	key := fmt.Sprintf("DPM-%d", f.nextID)
	issue := &jira.Issue{
		ID:  fmt.Sprintf("1000%d", f.nextID),
		Key: key,
		Fields: jira.IssueFields{
			Summary: summary,
			Status:  &jira.IssueStatus{Name: status},
			Updated: updated,
		},
	}
	f.issues[key] = issue
	return issue
}

func (f *fakeJira) CreateEpic(_ context.Context, _, summary, _ string) (*jira.Issue, error) {
	if f.failCreate {
		return nil, apperrors.JiraTransport("epic create failed", nil)
	}
	f.createCalls++
	return f.newIssue(summary, "To Do", "2026-07-01T08:00:00.000+0000"), nil
}

func (f *fakeJira) CreateIssue(_ context.Context, _, summary, _, parentEpicKey string) (*jira.Issue, error) {
	if f.failCreate {
		return nil, apperrors.JiraTransport("issue create failed", nil)
	}
	f.createCalls++
	f.lastParent = parentEpicKey
	return f.newIssue(summary, "To Do", "2026-07-01T08:00:00.000+0000"), nil
}

func (f *fakeJira) GetIssue(_ context.Context, key string) (*jira.Issue, error) {
	issue, ok := f.issues[key]
	if !ok {
		return nil, apperrors.NotFound("Jira issue not found")
	}
	return issue, nil
}

func (f *fakeJira) UpdateIssue(_ context.Context, key, summary, _ string) error {
	issue, ok := f.issues[key]
	if !ok {
		return apperrors.NotFound("Jira issue not found")
	}
	issue.Fields.Summary = summary
	f.updateCalls++
	return nil
}

func (f *fakeJira) GetTransitions(_ context.Context, key string) ([]jira.Transition, error) {
	return f.transitions[key], nil
}

func (f *fakeJira) TransitionIssue(_ context.Context, key, id string) error {
	if f.failTransition {
		return apperrors.JiraTransport("transition rejected", nil)
	}
	for _, tr := range f.transitions[key] {
		if tr.ID == id && tr.To != nil {
			f.issues[key].Fields.Status = &jira.IssueStatus{Name: tr.To.Name}
			return nil
		}
	}
	return apperrors.NotFound("no such transition")
}

// fakeStores back the engine with maps.
type fakeStores struct {
	mappings     map[uuid.UUID]*model.JiraMapping
	wbs          map[uuid.UUID]*model.WBSElement
	activities   map[uuid.UUID]*model.Activity
	integrations map[string]*model.JiraIntegration
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		mappings:     map[uuid.UUID]*model.JiraMapping{},
		wbs:          map[uuid.UUID]*model.WBSElement{},
		activities:   map[uuid.UUID]*model.Activity{},
		integrations: map[string]*model.JiraIntegration{},
	}
}

func (s *fakeStores) GetByWBS(_ context.Context, integrationID, wbsID uuid.UUID) (*model.JiraMapping, error) {
	for _, m := range s.mappings {
		if m.IntegrationID == integrationID && m.WBSID != nil && *m.WBSID == wbsID {
			return m, nil
		}
	}
	return nil, apperrors.NotFound("mapping not found")
}

func (s *fakeStores) GetByActivity(_ context.Context, integrationID, activityID uuid.UUID) (*model.JiraMapping, error) {
	for _, m := range s.mappings {
		if m.IntegrationID == integrationID && m.ActivityID != nil && *m.ActivityID == activityID {
			return m, nil
		}
	}
	return nil, apperrors.NotFound("mapping not found")
}

func (s *fakeStores) GetByIssueKey(_ context.Context, integrationID uuid.UUID, key string) (*model.JiraMapping, error) {
	for _, m := range s.mappings {
		if m.IntegrationID == integrationID && m.JiraIssueKey == key {
			return m, nil
		}
	}
	return nil, apperrors.NotFound("mapping not found")
}

func (s *fakeStores) Create(_ context.Context, m *model.JiraMapping) error {
	s.mappings[m.ID] = m
	return nil
}

func (s *fakeStores) Update(_ context.Context, m *model.JiraMapping) error {
	s.mappings[m.ID] = m
	return nil
}

func (s *fakeStores) Delete(_ context.Context, id uuid.UUID) error {
	delete(s.mappings, id)
	return nil
}

func (s *fakeStores) GetWBS(_ context.Context, id uuid.UUID) (*model.WBSElement, error) {
	if w, ok := s.wbs[id]; ok {
		return w, nil
	}
	return nil, apperrors.NotFound("wbs not found")
}

func (s *fakeStores) UpdateWBS(_ context.Context, w *model.WBSElement) error {
	s.wbs[w.ID] = w
	return nil
}

func (s *fakeStores) GetActivity(_ context.Context, id uuid.UUID) (*model.Activity, error) {
	if a, ok := s.activities[id]; ok {
		return a, nil
	}
	return nil, apperrors.NotFound("activity not found")
}

func (s *fakeStores) UpdateActivity(_ context.Context, a *model.Activity) error {
	s.activities[a.ID] = a
	return nil
}

func (s *fakeStores) GetByProjectKey(_ context.Context, projectKey string) (*model.JiraIntegration, error) {
	if i, ok := s.integrations[projectKey]; ok {
		return i, nil
	}
	return nil, apperrors.IntegrationNotFound("no integration for project " + projectKey)
}

func setup() (*Engine, *fakeJira, *fakeStores, *auditlog.Memory, *model.JiraIntegration) {
	api := newFakeJira()
	stores := newFakeStores()
	log := auditlog.NewMemory()
	integ := &model.JiraIntegration{
		ID:         uuid.New(),
		ProgramID:  uuid.New(),
		ProjectKey: "DPM",
		Enabled:    true,
	}
	stores.integrations["DPM"] = integ
	engine := New(Config{API: api, Mappings: stores, Entities: stores, Integrations: stores, AuditLog: log})
	return engine, api, stores, log, integ
}

func wbsElem(level int) *model.WBSElement {
	return &model.WBSElement{ID: uuid.New(), Level: level, Name: "Airframe", WBSCode: "1.1"}
}

func TestPushWBSCreatesAndSkipsDeepNodes(t *testing.T) {
	engine, api, stores, log, integ := setup()
	top := wbsElem(1)
	deep := wbsElem(3)

	batch, err := engine.PushWBS(context.Background(), integ, []*model.WBSElement{top, deep})
	require.NoError(t, err)
	assert.True(t, batch.Success)
	assert.Equal(t, 1, batch.ItemsSynced)
	assert.Equal(t, 1, api.createCalls)
	require.Len(t, batch.Items, 2)
	assert.Equal(t, ItemCreated, batch.Items[0].Action)
	assert.Equal(t, ItemSkipped, batch.Items[1].Action, "level 3 stays local")

	// The new mapping is bidirectional and carries Jira's timestamp.
	m, err := stores.GetByWBS(context.Background(), integ.ID, top.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncBidirectional, m.SyncDirection)
	assert.False(t, m.LastJiraUpdated.IsZero())

	entries, err := log.ListByIntegration(context.Background(), integ.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.SyncPush, entries[0].SyncType)
	assert.Equal(t, model.SyncSuccess, entries[0].Status)
}

func TestPushWBSTwiceUpdatesNotDuplicates(t *testing.T) {
	engine, api, stores, _, integ := setup()
	top := wbsElem(2)

	_, err := engine.PushWBS(context.Background(), integ, []*model.WBSElement{top})
	require.NoError(t, err)
	batch, err := engine.PushWBS(context.Background(), integ, []*model.WBSElement{top})
	require.NoError(t, err)

	assert.Equal(t, 1, api.createCalls, "second push must not create a new epic")
	assert.Equal(t, 1, api.updateCalls)
	assert.Equal(t, ItemUpdated, batch.Items[0].Action)
	assert.Len(t, stores.mappings, 1)
}

func TestPushSkipsFromJiraMappings(t *testing.T) {
	engine, api, stores, _, integ := setup()
	top := wbsElem(1)
	issue := api.newIssue("Airframe", "To Do", "2026-07-01T08:00:00.000+0000")
	stores.mappings[uuid.New()] = &model.JiraMapping{
		ID: uuid.New(), IntegrationID: integ.ID, WBSID: &top.ID,
		JiraIssueKey: issue.Key, SyncDirection: model.SyncFromJira,
	}

	batch, err := engine.PushWBS(context.Background(), integ, []*model.WBSElement{top})
	require.NoError(t, err)
	assert.Equal(t, ItemSkipped, batch.Items[0].Action)
	assert.Zero(t, api.updateCalls)
}

func TestPushDisabledIntegration(t *testing.T) {
	engine, _, _, log, integ := setup()
	integ.Enabled = false

	_, err := engine.PushWBS(context.Background(), integ, []*model.WBSElement{wbsElem(1)})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindSyncDisabled))

	entries, _ := log.ListByIntegration(context.Background(), integ.ID, time.Time{}, time.Time{})
	assert.Len(t, entries, 1, "ignored operations still hit the audit log")
}

func TestPushPartialBatch(t *testing.T) {
	engine, api, _, _, integ := setup()
	a := wbsElem(1)

	// First element succeeds, then the API starts failing.
	batch, err := engine.PushWBS(context.Background(), integ, []*model.WBSElement{a})
	require.NoError(t, err)
	require.True(t, batch.Success)

	api.failCreate = true
	b, c := wbsElem(1), wbsElem(2)
	batch, err = engine.PushWBS(context.Background(), integ, []*model.WBSElement{a, b, c})
	require.NoError(t, err, "item failures do not abort the batch")
	assert.False(t, batch.Success)
	assert.Equal(t, 2, batch.ItemsFailed)
	assert.Equal(t, 1, batch.ItemsSynced, "the mapped element still updates")
}

func TestActivityPushAttachesParentEpic(t *testing.T) {
	engine, api, stores, _, integ := setup()
	parent := wbsElem(2)
	_, err := engine.PushWBS(context.Background(), integ, []*model.WBSElement{parent})
	require.NoError(t, err)

	act := &model.Activity{ID: uuid.New(), WBSID: parent.ID, Code: "A-100", Name: "Wing spar"}
	stores.activities[act.ID] = act
	batch, err := engine.PushActivities(context.Background(), integ, []*model.Activity{act})
	require.NoError(t, err)
	assert.Equal(t, ItemCreated, batch.Items[0].Action)
	assert.Equal(t, 2, api.createCalls)
	assert.Equal(t, "DPM-1", api.lastParent, "the issue is created under the WBS element's epic")
}

func TestPullLastWriteWins(t *testing.T) {
	engine, api, stores, _, integ := setup()
	act := &model.Activity{ID: uuid.New(), Code: "A-1", Name: "Old name", PercentComplete: 0}
	stores.activities[act.ID] = act
	issue := api.newIssue("New name", "In Progress", "2026-07-02T08:00:00.000+0000")
	mapping := &model.JiraMapping{
		ID: uuid.New(), IntegrationID: integ.ID, ActivityID: &act.ID,
		JiraIssueKey: issue.Key, SyncDirection: model.SyncBidirectional,
		LastJiraUpdated: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	stores.mappings[mapping.ID] = mapping

	batch, err := engine.Pull(context.Background(), integ, []*model.JiraMapping{mapping})
	require.NoError(t, err)
	assert.Equal(t, ItemUpdated, batch.Items[0].Action)
	assert.Equal(t, "New name", stores.activities[act.ID].Name)
	assert.Equal(t, 50.0, stores.activities[act.ID].PercentComplete)

	// A second pull sees updated <= last_jira_updated and no-ops.
	batch, err = engine.Pull(context.Background(), integ, []*model.JiraMapping{mapping})
	require.NoError(t, err)
	assert.Equal(t, ItemSkipped, batch.Items[0].Action)
}

func TestPullDoesNotRegressProgress(t *testing.T) {
	engine, api, stores, _, integ := setup()
	act := &model.Activity{ID: uuid.New(), Code: "A-1", Name: "N", PercentComplete: 80}
	stores.activities[act.ID] = act
	issue := api.newIssue("N", "In Progress", "2026-07-02T08:00:00.000+0000")
	mapping := &model.JiraMapping{
		ID: uuid.New(), IntegrationID: integ.ID, ActivityID: &act.ID,
		JiraIssueKey: issue.Key, SyncDirection: model.SyncBidirectional,
		LastJiraUpdated: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	stores.mappings[mapping.ID] = mapping

	_, err := engine.Pull(context.Background(), integ, []*model.JiraMapping{mapping})
	require.NoError(t, err)
	assert.Equal(t, 80.0, stores.activities[act.ID].PercentComplete,
		"an in-progress status must not regress started work to 50%")
}

func TestSyncProgressTransitions(t *testing.T) {
	engine, api, stores, _, integ := setup()
	act := &model.Activity{ID: uuid.New(), Code: "A-1", Name: "N", PercentComplete: 100}
	stores.activities[act.ID] = act
	issue := api.newIssue("N", "In Progress", "2026-07-02T08:00:00.000+0000")
	api.transitions[issue.Key] = []jira.Transition{
		{ID: "11", Name: "To Do", To: &jira.IssueStatus{Name: "To Do"}},
		{ID: "31", Name: "Done", To: &jira.IssueStatus{Name: "Done"}},
	}
	stores.mappings[uuid.New()] = &model.JiraMapping{
		ID: uuid.New(), IntegrationID: integ.ID, ActivityID: &act.ID,
		JiraIssueKey: issue.Key, SyncDirection: model.SyncBidirectional,
	}

	batch, err := engine.SyncProgress(context.Background(), integ, []*model.Activity{act})
	require.NoError(t, err)
	assert.Equal(t, ItemUpdated, batch.Items[0].Action)
	assert.Equal(t, "Done", api.issues[issue.Key].Fields.Status.Name)

	// Already at the target: no transition attempted.
	batch, err = engine.SyncProgress(context.Background(), integ, []*model.Activity{act})
	require.NoError(t, err)
	assert.Equal(t, ItemSkipped, batch.Items[0].Action)
}

func TestSyncProgressTransitionFailureIsNotFatal(t *testing.T) {
	engine, api, stores, _, integ := setup()
	act := &model.Activity{ID: uuid.New(), Code: "A-1", PercentComplete: 100}
	issue := api.newIssue("N", "In Progress", "2026-07-02T08:00:00.000+0000")
	api.transitions[issue.Key] = []jira.Transition{{ID: "31", Name: "Done", To: &jira.IssueStatus{Name: "Done"}}}
	api.failTransition = true
	stores.mappings[uuid.New()] = &model.JiraMapping{
		ID: uuid.New(), IntegrationID: integ.ID, ActivityID: &act.ID,
		JiraIssueKey: issue.Key, SyncDirection: model.SyncBidirectional,
	}

	batch, err := engine.SyncProgress(context.Background(), integ, []*model.Activity{act})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.ItemsFailed)
	assert.False(t, batch.Success)
}

func webhookBody(event, issueKey, projectKey, status, updated string) []byte {
	payload := WebhookPayload{
		WebhookEvent: event,
		Issue: &WebhookIssue{
			ID:  "10001",
			Key: issueKey,
			Fields: WebhookIssueFields{
				Summary: "From webhook",
				Status:  &WebhookStatus{Name: status},
				Project: &WebhookProject{Key: projectKey},
				Updated: updated,
			},
		},
	}
	data, _ := json.Marshal(payload)
	return data
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"webhookEvent":"jira:issue_updated"}`)
	secret := "hush"

	assert.True(t, VerifySignature(secret, body, SignBody(secret, body)))
	assert.False(t, VerifySignature(secret, body, "sha256=deadbeef"))
	assert.False(t, VerifySignature(secret, body, "md5=abc"))
	assert.False(t, VerifySignature(secret, body, ""))
	assert.True(t, VerifySignature("", body, ""), "no secret bypasses verification")
}

func TestWebhookInvalidSignatureRejected(t *testing.T) {
	engine, _, _, _, _ := setup()
	resp, ok := engine.ProcessWebhook(context.Background(), []byte(`{}`), "sha256=00", "hush")
	assert.False(t, ok)
	assert.False(t, resp.Success)
}

func TestWebhookIssueUpdatedPulls(t *testing.T) {
	engine, api, stores, log, integ := setup()
	act := &model.Activity{ID: uuid.New(), Code: "A-1", Name: "Old", PercentComplete: 0}
	stores.activities[act.ID] = act
	issue := api.newIssue("From webhook", "Done", "2026-07-02T08:00:00.000+0000")
	mapping := &model.JiraMapping{
		ID: uuid.New(), IntegrationID: integ.ID, ActivityID: &act.ID,
		JiraIssueKey: issue.Key, SyncDirection: model.SyncBidirectional,
		LastJiraUpdated: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	stores.mappings[mapping.ID] = mapping

	body := webhookBody(EventIssueUpdated, issue.Key, "DPM", "Done", issue.Fields.Updated)
	resp, ok := engine.ProcessWebhook(context.Background(), body, "", "")
	require.True(t, ok)
	assert.True(t, resp.Success)
	assert.Equal(t, ActionUpdated, resp.Action)
	assert.Equal(t, 100.0, stores.activities[act.ID].PercentComplete)

	entries, _ := log.ListByIntegration(context.Background(), integ.ID, time.Time{}, time.Time{})
	require.Len(t, entries, 1)
	assert.Equal(t, model.SyncWebhook, entries[0].SyncType)
}

func TestWebhookIssueDeletedRemovesMapping(t *testing.T) {
	engine, api, stores, _, integ := setup()
	issue := api.newIssue("X", "Done", "2026-07-02T08:00:00.000+0000")
	mapping := &model.JiraMapping{
		ID: uuid.New(), IntegrationID: integ.ID, WBSID: &uuid.UUID{},
		JiraIssueKey: issue.Key,
	}
	stores.mappings[mapping.ID] = mapping

	body := webhookBody(EventIssueDeleted, issue.Key, "DPM", "Done", issue.Fields.Updated)
	resp, ok := engine.ProcessWebhook(context.Background(), body, "", "")
	require.True(t, ok)
	assert.Equal(t, ActionMappingDeleted, resp.Action)
	assert.Empty(t, stores.mappings)

	// Jira may deliver the same event twice; the second pass is a
	// no-mapping ignore, still a success.
	resp, ok = engine.ProcessWebhook(context.Background(), body, "", "")
	require.True(t, ok)
	assert.True(t, resp.Success)
	assert.Equal(t, ActionIgnoredNoMapping, resp.Action)
}

func TestWebhookIgnores(t *testing.T) {
	engine, _, stores, _, integ := setup()

	resp, ok := engine.ProcessWebhook(context.Background(),
		[]byte(`{"webhookEvent":"jira:worklog_updated"}`), "", "")
	require.True(t, ok)
	assert.Equal(t, ActionIgnoredUnsupported, resp.Action)

	body := webhookBody(EventIssueUpdated, "OTHER-1", "OTHER", "Done", "2026-07-02T08:00:00.000+0000")
	resp, ok = engine.ProcessWebhook(context.Background(), body, "", "")
	require.True(t, ok)
	assert.Equal(t, ActionIgnoredNoIntegration, resp.Action)

	integ.Enabled = false
	body = webhookBody(EventIssueUpdated, "DPM-9", "DPM", "Done", "2026-07-02T08:00:00.000+0000")
	resp, ok = engine.ProcessWebhook(context.Background(), body, "", "")
	require.True(t, ok)
	assert.Equal(t, ActionIgnoredSyncDisabled, resp.Action)
	_ = stores
}

func TestStatusToPercent(t *testing.T) {
	tests := []struct {
		status  string
		current float64
		want    float64
		changed bool
	}{
		{"Done", 0, 100, true},
		{"Completed", 30, 100, true},
		{"In Progress", 0, 50, true},
		{"In Progress", 80, 0, false},
		{"To Do", 40, 0, true},
		{"Open", 40, 0, true},
		{"Blocked", 40, 0, false},
	}
	for _, tt := range tests {
		got, changed := StatusToPercent(tt.status, tt.current)
		assert.Equal(t, tt.changed, changed, tt.status)
		if changed {
			assert.Equal(t, tt.want, got, tt.status)
		}
	}
}

func TestPercentToStatus(t *testing.T) {
	assert.Equal(t, "To Do", PercentToStatus(0))
	assert.Equal(t, "In Progress", PercentToStatus(50))
	assert.Equal(t, "Done", PercentToStatus(100))
	assert.Equal(t, "Done", PercentToStatus(120))
}
