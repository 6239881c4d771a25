package jirasync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Webhook event types this engine understands.
const (
	EventIssueUpdated = "jira:issue_updated"
	EventIssueCreated = "jira:issue_created"
	EventIssueDeleted = "jira:issue_deleted"
)

// Actions recorded in webhook responses and the audit log.
const (
	ActionUpdated             = "updated"
	ActionNoop                = "noop"
	ActionMappingRefreshed    = "mapping_refreshed"
	ActionMappingDeleted      = "mapping_deleted"
	ActionIgnoredUnsupported  = "ignored_unsupported_event"
	ActionIgnoredSyncDisabled = "ignored_sync_disabled"
	ActionIgnoredNoMapping    = "ignored_no_mapping"
	ActionIgnoredNoIntegration = "ignored_integration_not_found"
)

// WebhookPayload is the inbound Jira webhook body.
type WebhookPayload struct {
	WebhookEvent string        `json:"webhookEvent"`
	Issue        *WebhookIssue `json:"issue,omitempty"`
	Changelog    *Changelog    `json:"changelog,omitempty"`
	Timestamp    int64         `json:"timestamp,omitempty"`
}

type WebhookIssue struct {
	ID     string              `json:"id"`
	Key    string              `json:"key"`
	Fields WebhookIssueFields  `json:"fields"`
}

type WebhookIssueFields struct {
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	Status      *WebhookStatus  `json:"status,omitempty"`
	Project     *WebhookProject `json:"project,omitempty"`
	Updated     string          `json:"updated,omitempty"`
}

type WebhookStatus struct {
	Name string `json:"name"`
}

type WebhookProject struct {
	Key string `json:"key"`
}

type Changelog struct {
	Items []ChangelogItem `json:"items"`
}

type ChangelogItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

// WebhookResponse is the body returned for every webhook delivery; the
// endpoint answers 200 regardless of processing outcome, with a failed
// signature check as the only 401.
type WebhookResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	EventType string `json:"event_type"`
	IssueKey  string `json:"issue_key,omitempty"`
	Action    string `json:"action,omitempty"`
}

// VerifySignature checks the X-Hub-Signature header ("sha256=<hex>")
// against the HMAC-SHA-256 of the raw body. The comparison is constant
// time, so verification cost does not reveal where a forgery diverges.
// An empty secret bypasses verification entirely.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return true
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// SignBody produces the signature header value for a body, used by tests
// and by outbound webhook replay tooling.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
