// Package jira is a minimal Jira Cloud REST client covering what the
// sync engine needs: epic and issue creation, reads, field updates, and
// status transitions. The HTTP transport is injected so tests substitute
// a mock, and outbound calls are rate limited per client to stay inside
// Jira's API quota.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ironclad.dev/dpm/apperrors"
)

// HTTPClient is the transport interface; *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one Jira site with basic (email + API token) auth.
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient HTTPClient
	limiter    *rate.Limiter
}

// NewClient builds a client against the site's base URL, e.g.
// "https://yoursite.atlassian.net".
func NewClient(baseURL, email, apiToken string) *Client {
	return NewClientWithHTTP(baseURL, email, apiToken, http.DefaultClient)
}

// NewClientWithHTTP injects a custom transport, primarily for tests.
func NewClientWithHTTP(baseURL, email, apiToken string, httpClient HTTPClient) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		apiToken:   apiToken,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

// Issue is the subset of Jira's issue representation the sync engine
// consumes.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

type IssueFields struct {
	Summary     string       `json:"summary"`
	Description string       `json:"description,omitempty"`
	Status      *IssueStatus `json:"status,omitempty"`
	Project     *ProjectRef  `json:"project,omitempty"`
	Updated     string       `json:"updated,omitempty"`
}

type IssueStatus struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type ProjectRef struct {
	Key string `json:"key"`
}

// Transition is one available workflow transition for an issue.
type Transition struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	To   *IssueStatus `json:"to,omitempty"`
}

// UpdatedTime parses the issue's updated timestamp; Jira emits RFC 3339
// with a numeric zone and milliseconds.
func (i *Issue) UpdatedTime() (time.Time, error) {
	if i.Fields.Updated == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339} {
		if t, err := time.Parse(layout, i.Fields.Updated); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized Jira timestamp %q", i.Fields.Updated)
}

type createIssueRequest struct {
	Fields createIssueFields `json:"fields"`
}

type createIssueFields struct {
	Project     ProjectRef  `json:"project"`
	Summary     string      `json:"summary"`
	Description string      `json:"description,omitempty"`
	IssueType   issueTypeRef `json:"issuetype"`
	Parent      *keyRef     `json:"parent,omitempty"`
}

type issueTypeRef struct {
	Name string `json:"name"`
}

type keyRef struct {
	Key string `json:"key"`
}

// CreateEpic creates an epic and returns the created issue (key + id).
func (c *Client) CreateEpic(ctx context.Context, projectKey, summary, description string) (*Issue, error) {
	body := createIssueRequest{Fields: createIssueFields{
		Project:     ProjectRef{Key: projectKey},
		Summary:     summary,
		Description: description,
		IssueType:   issueTypeRef{Name: "Epic"},
	}}
	var issue Issue
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", body, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// CreateIssue creates a task-type issue, optionally attached to a parent
// epic by key.
func (c *Client) CreateIssue(ctx context.Context, projectKey, summary, description, parentEpicKey string) (*Issue, error) {
	fields := createIssueFields{
		Project:     ProjectRef{Key: projectKey},
		Summary:     summary,
		Description: description,
		IssueType:   issueTypeRef{Name: "Task"},
	}
	if parentEpicKey != "" {
		fields.Parent = &keyRef{Key: parentEpicKey}
	}
	var issue Issue
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", createIssueRequest{Fields: fields}, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetIssue fetches an issue by key with the fields the sync engine reads.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	var issue Issue
	path := fmt.Sprintf("/rest/api/2/issue/%s?fields=summary,description,status,project,updated", key)
	if err := c.do(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// UpdateIssue re-sends summary and description.
func (c *Client) UpdateIssue(ctx context.Context, key, summary, description string) error {
	body := map[string]interface{}{
		"fields": map[string]interface{}{
			"summary":     summary,
			"description": description,
		},
	}
	return c.do(ctx, http.MethodPut, "/rest/api/2/issue/"+key, body, nil)
}

// GetTransitions lists the workflow transitions currently available.
func (c *Client) GetTransitions(ctx context.Context, key string) ([]Transition, error) {
	var out struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/2/issue/"+key+"/transitions", nil, &out); err != nil {
		return nil, err
	}
	return out.Transitions, nil
}

// TransitionIssue moves the issue through the named transition.
func (c *Client) TransitionIssue(ctx context.Context, key, transitionID string) error {
	body := map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	}
	return c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+key+"/transitions", body, nil)
}

// do runs one rate-limited request and decodes the response into out
// when non-nil. Non-2xx responses become JiraTransport errors carrying
// the response body.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.JiraTransport("rate limiter interrupted", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.JiraTransport("request failed", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return apperrors.NotFound("Jira issue not found")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		data, _ := io.ReadAll(res.Body)
		return apperrors.JiraTransport(
			fmt.Sprintf("Jira returned status %d: %s", res.StatusCode, string(data)), nil)
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return apperrors.JiraTransport("failed to read response", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.JiraTransport("failed to parse response", err)
	}
	return nil
}
