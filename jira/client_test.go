package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironclad.dev/dpm/apperrors"
)

// mockHTTPClient records requests and plays back canned responses.
type mockHTTPClient struct {
	requests  []*http.Request
	bodies    []string
	responses []*http.Response
	err       error
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		m.bodies = append(m.bodies, string(data))
	} else {
		m.bodies = append(m.bodies, "")
	}
	if m.err != nil {
		return nil, m.err
	}
	res := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return res, nil
}

func jsonResponse(status int, body interface{}) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestCreateEpic(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(201, Issue{ID: "10001", Key: "DPM-1"}),
	}}
	client := NewClientWithHTTP("https://example.atlassian.net/", "pm@example.com", "token", mock)

	issue, err := client.CreateEpic(context.Background(), "DPM", "Airframe", "Top-level airframe work")
	require.NoError(t, err)
	assert.Equal(t, "DPM-1", issue.Key)

	req := mock.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://example.atlassian.net/rest/api/2/issue", req.URL.String())
	assert.Contains(t, mock.bodies[0], `"Epic"`)
	assert.Contains(t, mock.bodies[0], `"Airframe"`)

	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "pm@example.com", user)
	assert.Equal(t, "token", pass)
}

func TestCreateIssueWithParent(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(201, Issue{ID: "10002", Key: "DPM-2"}),
	}}
	client := NewClientWithHTTP("https://example.atlassian.net", "e", "t", mock)

	_, err := client.CreateIssue(context.Background(), "DPM", "Wing spar", "", "DPM-1")
	require.NoError(t, err)
	assert.Contains(t, mock.bodies[0], `"parent":{"key":"DPM-1"}`)
}

func TestGetIssue(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(200, Issue{
			ID:  "10001",
			Key: "DPM-1",
			Fields: IssueFields{
				Summary: "Airframe",
				Status:  &IssueStatus{Name: "In Progress"},
				Updated: "2026-07-01T10:30:00.000+0000",
			},
		}),
	}}
	client := NewClientWithHTTP("https://example.atlassian.net", "e", "t", mock)

	issue, err := client.GetIssue(context.Background(), "DPM-1")
	require.NoError(t, err)
	assert.Equal(t, "In Progress", issue.Fields.Status.Name)

	updated, err := issue.UpdatedTime()
	require.NoError(t, err)
	assert.Equal(t, 2026, updated.Year())
	assert.Equal(t, 10, updated.Hour())
}

func TestGetIssueNotFound(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(404, map[string]interface{}{"errorMessages": []string{"Issue does not exist"}}),
	}}
	client := NewClientWithHTTP("https://example.atlassian.net", "e", "t", mock)

	_, err := client.GetIssue(context.Background(), "DPM-404")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestServerErrorIsTransport(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(500, map[string]string{"error": "boom"}),
	}}
	client := NewClientWithHTTP("https://example.atlassian.net", "e", "t", mock)

	err := client.UpdateIssue(context.Background(), "DPM-1", "s", "d")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindJiraTransport))
}

func TestTransitions(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(200, map[string]interface{}{
			"transitions": []Transition{
				{ID: "11", Name: "To Do"},
				{ID: "31", Name: "Done", To: &IssueStatus{Name: "Done"}},
			},
		}),
		jsonResponse(204, nil),
	}}
	client := NewClientWithHTTP("https://example.atlassian.net", "e", "t", mock)

	transitions, err := client.GetTransitions(context.Background(), "DPM-1")
	require.NoError(t, err)
	require.Len(t, transitions, 2)

	require.NoError(t, client.TransitionIssue(context.Background(), "DPM-1", "31"))
	assert.Contains(t, mock.bodies[1], `"id":"31"`)
}

func TestUpdatedTimeFormats(t *testing.T) {
	i := &Issue{Fields: IssueFields{Updated: "2026-07-01T10:30:00Z"}}
	ts, err := i.UpdatedTime()
	require.NoError(t, err)
	assert.False(t, ts.IsZero())

	i = &Issue{Fields: IssueFields{}}
	ts, err = i.UpdatedTime()
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	i = &Issue{Fields: IssueFields{Updated: "yesterday"}}
	_, err = i.UpdatedTime()
	assert.Error(t, err)
}
