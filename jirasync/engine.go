// Package jirasync keeps a program's WBS tree and activities in step with
// Jira: WBS elements map to epics, activities map to issues. Pushes
// create or update Jira issues and persist mappings; pulls apply Jira's
// state locally under a last-write-wins rule keyed on Jira's own updated
// timestamp; inbound webhooks are HMAC-verified and funneled through the
// same pull logic. Every operation, including the ignored ones, lands in
// the audit log.
package jirasync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/auditlog"
	"ironclad.dev/dpm/jira"
	"ironclad.dev/dpm/model"
)

// maxSyncLevel bounds WBS sync depth: programs and their top
// sub-components sync; deeper nodes stay local.
const maxSyncLevel = 2

// JiraAPI is the client surface the engine drives; *jira.Client
// implements it.
type JiraAPI interface {
	CreateEpic(ctx context.Context, projectKey, summary, description string) (*jira.Issue, error)
	CreateIssue(ctx context.Context, projectKey, summary, description, parentEpicKey string) (*jira.Issue, error)
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
	UpdateIssue(ctx context.Context, key, summary, description string) error
	GetTransitions(ctx context.Context, key string) ([]jira.Transition, error)
	TransitionIssue(ctx context.Context, key, transitionID string) error
}

// MappingStore persists issue mappings. Lookups return a NotFound error
// when no mapping exists; Delete is a hard delete.
type MappingStore interface {
	GetByWBS(ctx context.Context, integrationID, wbsID uuid.UUID) (*model.JiraMapping, error)
	GetByActivity(ctx context.Context, integrationID, activityID uuid.UUID) (*model.JiraMapping, error)
	GetByIssueKey(ctx context.Context, integrationID uuid.UUID, issueKey string) (*model.JiraMapping, error)
	Create(ctx context.Context, m *model.JiraMapping) error
	Update(ctx context.Context, m *model.JiraMapping) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// EntityStore reads and writes the local entities a pull touches.
type EntityStore interface {
	GetWBS(ctx context.Context, id uuid.UUID) (*model.WBSElement, error)
	UpdateWBS(ctx context.Context, w *model.WBSElement) error
	GetActivity(ctx context.Context, id uuid.UUID) (*model.Activity, error)
	UpdateActivity(ctx context.Context, a *model.Activity) error
}

// IntegrationStore resolves integrations, notably by Jira project key for
// webhook routing.
type IntegrationStore interface {
	GetByProjectKey(ctx context.Context, projectKey string) (*model.JiraIntegration, error)
}

// Engine coordinates one sync surface set.
type Engine struct {
	api          JiraAPI
	apiFactory   func(*model.JiraIntegration) JiraAPI
	mappings     MappingStore
	entities     EntityStore
	integrations IntegrationStore
	log          auditlog.Recorder
	logger       *logrus.Entry
	now          func() time.Time
}

// Config wires an Engine; Logger and Now are optional. API pins one
// client for every integration (tests); APIFactory builds a client per
// integration from its own base URL and credentials (production). API
// wins when both are set.
type Config struct {
	API          JiraAPI
	APIFactory   func(*model.JiraIntegration) JiraAPI
	Mappings     MappingStore
	Entities     EntityStore
	Integrations IntegrationStore
	AuditLog     auditlog.Recorder
	Logger       *logrus.Entry
	Now          func() time.Time
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		api:          cfg.API,
		apiFactory:   cfg.APIFactory,
		mappings:     cfg.Mappings,
		entities:     cfg.Entities,
		integrations: cfg.Integrations,
		log:          cfg.AuditLog,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// apiFor resolves the client for an integration.
func (e *Engine) apiFor(integ *model.JiraIntegration) JiraAPI {
	if e.api != nil || e.apiFactory == nil {
		return e.api
	}
	return e.apiFactory(integ)
}

// ItemAction classifies what a push did with one item.
type ItemAction string

const (
	ItemCreated ItemAction = "create"
	ItemUpdated ItemAction = "update"
	ItemSkipped ItemAction = "skip"
	ItemFailed  ItemAction = "failed"
)

// ItemResult is one item's outcome inside a batch.
type ItemResult struct {
	EntityID uuid.UUID
	IssueKey string
	Action   ItemAction
	Error    string
}

// BatchResult is a sync batch's outcome. Success is true iff every item
// succeeded; a mixed batch has Success false, and its ItemsFailed count
// says how many items did not go through.
type BatchResult struct {
	Items       []ItemResult
	ItemsSynced int
	ItemsFailed int
	Success     bool
}

func (b *BatchResult) add(r ItemResult) {
	b.Items = append(b.Items, r)
	if r.Action == ItemFailed {
		b.ItemsFailed++
	} else if r.Action != ItemSkipped {
		b.ItemsSynced++
	}
}

func (b *BatchResult) status() model.SyncStatus {
	switch {
	case b.ItemsFailed == 0:
		return model.SyncSuccess
	case b.ItemsSynced > 0:
		return model.SyncPartial
	default:
		return model.SyncFailed
	}
}

// PushWBS pushes WBS elements to Jira as epics. Elements deeper than
// level 2 are skipped. Item failures do not abort the batch.
func (e *Engine) PushWBS(ctx context.Context, integ *model.JiraIntegration, elems []*model.WBSElement) (*BatchResult, error) {
	started := e.now()
	batch := &BatchResult{}

	if !integ.Enabled {
		e.record(ctx, integ, nil, model.SyncPush, model.SyncSuccess, 0, 0, "sync disabled", started)
		return batch, apperrors.SyncDisabled("integration is disabled")
	}

	api := e.apiFor(integ)
	for _, w := range elems {
		if w.Level > maxSyncLevel {
			batch.add(ItemResult{EntityID: w.ID, Action: ItemSkipped})
			continue
		}
		batch.add(e.pushOneWBS(ctx, api, integ, w))
	}

	batch.Success = batch.ItemsFailed == 0
	e.record(ctx, integ, nil, model.SyncPush, batch.status(), batch.ItemsSynced, batch.ItemsFailed, batchError(batch), started)
	return batch, nil
}

func (e *Engine) pushOneWBS(ctx context.Context, api JiraAPI, integ *model.JiraIntegration, w *model.WBSElement) ItemResult {
	mapping, err := e.mappings.GetByWBS(ctx, integ.ID, w.ID)
	switch {
	case apperrors.Is(err, apperrors.KindNotFound):
		issue, err := api.CreateEpic(ctx, integ.ProjectKey, w.Name, w.Description)
		if err != nil {
			return ItemResult{EntityID: w.ID, Action: ItemFailed, Error: err.Error()}
		}
		if err := e.createMapping(ctx, integ, issue, &w.ID, nil); err != nil {
			return ItemResult{EntityID: w.ID, Action: ItemFailed, Error: err.Error()}
		}
		return ItemResult{EntityID: w.ID, IssueKey: issue.Key, Action: ItemCreated}
	case err != nil:
		return ItemResult{EntityID: w.ID, Action: ItemFailed, Error: err.Error()}
	}

	if mapping.SyncDirection == model.SyncFromJira {
		return ItemResult{EntityID: w.ID, IssueKey: mapping.JiraIssueKey, Action: ItemSkipped}
	}
	if err := api.UpdateIssue(ctx, mapping.JiraIssueKey, w.Name, w.Description); err != nil {
		return ItemResult{EntityID: w.ID, IssueKey: mapping.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}
	mapping.LastSyncedAt = e.now()
	if err := e.mappings.Update(ctx, mapping); err != nil {
		return ItemResult{EntityID: w.ID, IssueKey: mapping.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}
	return ItemResult{EntityID: w.ID, IssueKey: mapping.JiraIssueKey, Action: ItemUpdated}
}

// PushActivities pushes activities as issues, attaching each to its
// parent WBS's epic when that mapping exists.
func (e *Engine) PushActivities(ctx context.Context, integ *model.JiraIntegration, acts []*model.Activity) (*BatchResult, error) {
	started := e.now()
	batch := &BatchResult{}

	if !integ.Enabled {
		e.record(ctx, integ, nil, model.SyncPush, model.SyncSuccess, 0, 0, "sync disabled", started)
		return batch, apperrors.SyncDisabled("integration is disabled")
	}

	api := e.apiFor(integ)
	for _, a := range acts {
		batch.add(e.pushOneActivity(ctx, api, integ, a))
	}

	batch.Success = batch.ItemsFailed == 0
	e.record(ctx, integ, nil, model.SyncPush, batch.status(), batch.ItemsSynced, batch.ItemsFailed, batchError(batch), started)
	return batch, nil
}

func (e *Engine) pushOneActivity(ctx context.Context, api JiraAPI, integ *model.JiraIntegration, a *model.Activity) ItemResult {
	mapping, err := e.mappings.GetByActivity(ctx, integ.ID, a.ID)
	switch {
	case apperrors.Is(err, apperrors.KindNotFound):
		parentKey := ""
		if parent, err := e.mappings.GetByWBS(ctx, integ.ID, a.WBSID); err == nil {
			parentKey = parent.JiraIssueKey
		}
		issue, err := api.CreateIssue(ctx, integ.ProjectKey, a.Name, activityDescription(a), parentKey)
		if err != nil {
			return ItemResult{EntityID: a.ID, Action: ItemFailed, Error: err.Error()}
		}
		if err := e.createMapping(ctx, integ, issue, nil, &a.ID); err != nil {
			return ItemResult{EntityID: a.ID, Action: ItemFailed, Error: err.Error()}
		}
		return ItemResult{EntityID: a.ID, IssueKey: issue.Key, Action: ItemCreated}
	case err != nil:
		return ItemResult{EntityID: a.ID, Action: ItemFailed, Error: err.Error()}
	}

	if mapping.SyncDirection == model.SyncFromJira {
		return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemSkipped}
	}
	if err := api.UpdateIssue(ctx, mapping.JiraIssueKey, a.Name, activityDescription(a)); err != nil {
		return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}
	mapping.LastSyncedAt = e.now()
	if err := e.mappings.Update(ctx, mapping); err != nil {
		return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}
	return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemUpdated}
}

func activityDescription(a *model.Activity) string {
	return fmt.Sprintf("Activity %s, duration %d days, %.0f%% complete", a.Code, a.Duration, a.PercentComplete)
}

func (e *Engine) createMapping(ctx context.Context, integ *model.JiraIntegration, issue *jira.Issue, wbsID, activityID *uuid.UUID) error {
	updated, err := issue.UpdatedTime()
	if err != nil {
		updated = e.now()
	}
	m := &model.JiraMapping{
		ID:              uuid.New(),
		IntegrationID:   integ.ID,
		WBSID:           wbsID,
		ActivityID:      activityID,
		JiraIssueKey:    issue.Key,
		JiraIssueID:     issue.ID,
		SyncDirection:   model.SyncBidirectional,
		LastSyncedAt:    e.now(),
		LastJiraUpdated: updated,
	}
	return e.mappings.Create(ctx, m)
}

// Pull fetches each mapping's issue and applies it locally under the
// last-write-wins rule: an issue whose updated timestamp is not newer
// than the mapping's recorded one is a no-op, not an error.
func (e *Engine) Pull(ctx context.Context, integ *model.JiraIntegration, mappings []*model.JiraMapping) (*BatchResult, error) {
	started := e.now()
	batch := &BatchResult{}

	if !integ.Enabled {
		e.record(ctx, integ, nil, model.SyncPull, model.SyncSuccess, 0, 0, "sync disabled", started)
		return batch, apperrors.SyncDisabled("integration is disabled")
	}

	api := e.apiFor(integ)
	for _, m := range mappings {
		batch.add(e.pullOne(ctx, api, m))
	}

	batch.Success = batch.ItemsFailed == 0
	e.record(ctx, integ, nil, model.SyncPull, batch.status(), batch.ItemsSynced, batch.ItemsFailed, batchError(batch), started)
	return batch, nil
}

func (e *Engine) pullOne(ctx context.Context, api JiraAPI, m *model.JiraMapping) ItemResult {
	entityID := uuid.Nil
	if m.WBSID != nil {
		entityID = *m.WBSID
	} else if m.ActivityID != nil {
		entityID = *m.ActivityID
	}

	issue, err := api.GetIssue(ctx, m.JiraIssueKey)
	if err != nil {
		return ItemResult{EntityID: entityID, IssueKey: m.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}
	updated, err := issue.UpdatedTime()
	if err != nil {
		return ItemResult{EntityID: entityID, IssueKey: m.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}
	if !updated.After(m.LastJiraUpdated) {
		return ItemResult{EntityID: entityID, IssueKey: m.JiraIssueKey, Action: ItemSkipped}
	}

	if err := e.applyIssue(ctx, m, issue); err != nil {
		return ItemResult{EntityID: entityID, IssueKey: m.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}

	// Record Jira's own timestamp, never a derived one.
	m.LastJiraUpdated = updated
	m.LastSyncedAt = e.now()
	if err := e.mappings.Update(ctx, m); err != nil {
		return ItemResult{EntityID: entityID, IssueKey: m.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}
	return ItemResult{EntityID: entityID, IssueKey: m.JiraIssueKey, Action: ItemUpdated}
}

// applyIssue writes the issue's state onto the mapped local entity.
func (e *Engine) applyIssue(ctx context.Context, m *model.JiraMapping, issue *jira.Issue) error {
	if m.WBSID != nil {
		w, err := e.entities.GetWBS(ctx, *m.WBSID)
		if err != nil {
			return err
		}
		w.Name = issue.Fields.Summary
		w.Description = issue.Fields.Description
		return e.entities.UpdateWBS(ctx, w)
	}

	a, err := e.entities.GetActivity(ctx, *m.ActivityID)
	if err != nil {
		return err
	}
	a.Name = issue.Fields.Summary
	if issue.Fields.Status != nil {
		if pct, ok := StatusToPercent(issue.Fields.Status.Name, a.PercentComplete); ok {
			a.PercentComplete = pct
		}
	}
	return e.entities.UpdateActivity(ctx, a)
}

// SyncProgress drives each mapped activity's Jira status toward the one
// its percent-complete implies. A failed transition is logged and counts
// as an item failure, but does not abort the batch.
func (e *Engine) SyncProgress(ctx context.Context, integ *model.JiraIntegration, acts []*model.Activity) (*BatchResult, error) {
	started := e.now()
	batch := &BatchResult{}

	if !integ.Enabled {
		e.record(ctx, integ, nil, model.SyncPush, model.SyncSuccess, 0, 0, "sync disabled", started)
		return batch, apperrors.SyncDisabled("integration is disabled")
	}

	api := e.apiFor(integ)
	for _, a := range acts {
		batch.add(e.syncOneProgress(ctx, api, integ, a))
	}

	batch.Success = batch.ItemsFailed == 0
	e.record(ctx, integ, nil, model.SyncPush, batch.status(), batch.ItemsSynced, batch.ItemsFailed, batchError(batch), started)
	return batch, nil
}

func (e *Engine) syncOneProgress(ctx context.Context, api JiraAPI, integ *model.JiraIntegration, a *model.Activity) ItemResult {
	mapping, err := e.mappings.GetByActivity(ctx, integ.ID, a.ID)
	if err != nil {
		return ItemResult{EntityID: a.ID, Action: ItemFailed, Error: err.Error()}
	}

	issue, err := api.GetIssue(ctx, mapping.JiraIssueKey)
	if err != nil {
		return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}

	target := PercentToStatus(a.PercentComplete)
	if issue.Fields.Status != nil && strings.EqualFold(issue.Fields.Status.Name, target) {
		return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemSkipped}
	}

	transitions, err := api.GetTransitions(ctx, mapping.JiraIssueKey)
	if err != nil {
		return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}
	transitionID := ""
	for _, tr := range transitions {
		if strings.EqualFold(tr.Name, target) || (tr.To != nil && strings.EqualFold(tr.To.Name, target)) {
			transitionID = tr.ID
			break
		}
	}
	if transitionID == "" {
		e.logger.WithFields(logrus.Fields{"issue": mapping.JiraIssueKey, "target": target}).
			Warn("no transition to target status")
		return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemFailed,
			Error: "no transition to status " + target}
	}

	if err := api.TransitionIssue(ctx, mapping.JiraIssueKey, transitionID); err != nil {
		e.logger.WithError(err).WithField("issue", mapping.JiraIssueKey).Warn("status transition failed")
		return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemFailed, Error: err.Error()}
	}
	return ItemResult{EntityID: a.ID, IssueKey: mapping.JiraIssueKey, Action: ItemUpdated}
}

// ProcessWebhook verifies, parses, and dispatches one delivery. The
// returned response is always safe to serve with HTTP 200; signature
// failure is reported through the separate boolean so the transport
// layer can answer 401.
func (e *Engine) ProcessWebhook(ctx context.Context, body []byte, signatureHeader, secret string) (*WebhookResponse, bool) {
	if !VerifySignature(secret, body, signatureHeader) {
		return &WebhookResponse{Success: false, Message: "invalid signature"}, false
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return &WebhookResponse{Success: false, Message: "malformed payload: " + err.Error()}, true
	}
	return e.handleEvent(ctx, &payload), true
}

func (e *Engine) handleEvent(ctx context.Context, payload *WebhookPayload) *WebhookResponse {
	started := e.now()
	resp := &WebhookResponse{Success: true, EventType: payload.WebhookEvent}

	switch payload.WebhookEvent {
	case EventIssueUpdated, EventIssueCreated, EventIssueDeleted:
	default:
		resp.Message = "event not handled"
		resp.Action = ActionIgnoredUnsupported
		e.record(ctx, nil, nil, model.SyncWebhook, model.SyncSuccess, 0, 0, resp.Action, started)
		return resp
	}

	if payload.Issue == nil || payload.Issue.Fields.Project == nil {
		resp.Success = false
		resp.Message = "payload carries no issue project"
		e.record(ctx, nil, nil, model.SyncWebhook, model.SyncFailed, 0, 1, resp.Message, started)
		return resp
	}
	resp.IssueKey = payload.Issue.Key

	integ, err := e.integrations.GetByProjectKey(ctx, payload.Issue.Fields.Project.Key)
	if err != nil {
		resp.Message = "no integration for project " + payload.Issue.Fields.Project.Key
		resp.Action = ActionIgnoredNoIntegration
		e.record(ctx, nil, nil, model.SyncWebhook, model.SyncSuccess, 0, 0, resp.Action, started)
		return resp
	}
	if !integ.Enabled {
		resp.Message = "integration disabled"
		resp.Action = ActionIgnoredSyncDisabled
		e.record(ctx, integ, nil, model.SyncWebhook, model.SyncSuccess, 0, 0, resp.Action, started)
		return resp
	}

	mapping, err := e.mappings.GetByIssueKey(ctx, integ.ID, payload.Issue.Key)
	if err != nil {
		resp.Message = "no mapping for issue " + payload.Issue.Key
		resp.Action = ActionIgnoredNoMapping
		e.record(ctx, integ, nil, model.SyncWebhook, model.SyncSuccess, 0, 0, resp.Action, started)
		return resp
	}

	switch payload.WebhookEvent {
	case EventIssueUpdated:
		item := e.pullOne(ctx, e.apiFor(integ), mapping)
		switch item.Action {
		case ItemFailed:
			resp.Success = false
			resp.Message = item.Error
			resp.Action = ActionUpdated
			e.record(ctx, integ, &mapping.ID, model.SyncWebhook, model.SyncFailed, 0, 1, item.Error, started)
		case ItemSkipped:
			resp.Message = "issue not newer than last sync"
			resp.Action = ActionNoop
			e.record(ctx, integ, &mapping.ID, model.SyncWebhook, model.SyncSuccess, 0, 0, resp.Action, started)
		default:
			resp.Message = "local entity updated"
			resp.Action = ActionUpdated
			e.record(ctx, integ, &mapping.ID, model.SyncWebhook, model.SyncSuccess, 1, 0, "", started)
		}

	case EventIssueCreated:
		// The mapping was created by the push path; just refresh its clock.
		mapping.LastSyncedAt = e.now()
		if err := e.mappings.Update(ctx, mapping); err != nil {
			resp.Success = false
			resp.Message = err.Error()
			e.record(ctx, integ, &mapping.ID, model.SyncWebhook, model.SyncFailed, 0, 1, err.Error(), started)
			return resp
		}
		resp.Message = "mapping refreshed"
		resp.Action = ActionMappingRefreshed
		e.record(ctx, integ, &mapping.ID, model.SyncWebhook, model.SyncSuccess, 1, 0, "", started)

	case EventIssueDeleted:
		if err := e.mappings.Delete(ctx, mapping.ID); err != nil {
			resp.Success = false
			resp.Message = err.Error()
			e.record(ctx, integ, &mapping.ID, model.SyncWebhook, model.SyncFailed, 0, 1, err.Error(), started)
			return resp
		}
		resp.Message = "mapping deleted"
		resp.Action = ActionMappingDeleted
		e.record(ctx, integ, &mapping.ID, model.SyncWebhook, model.SyncSuccess, 1, 0, "", started)
	}
	return resp
}

func batchError(b *BatchResult) string {
	var msgs []string
	for _, item := range b.Items {
		if item.Error != "" {
			msgs = append(msgs, item.Error)
		}
	}
	return strings.Join(msgs, "; ")
}

// record writes one audit log entry; a failed write is logged but never
// fails the operation it describes.
func (e *Engine) record(ctx context.Context, integ *model.JiraIntegration, mappingID *uuid.UUID,
	syncType model.SyncType, status model.SyncStatus, synced, failed int, errMsg string, started time.Time) {

	entry := &model.JiraSyncLog{
		SyncType:     syncType,
		Status:       status,
		ItemsSynced:  synced,
		ItemsFailed:  failed,
		ErrorMessage: errMsg,
		DurationMS:   e.now().Sub(started).Milliseconds(),
		Timestamp:    e.now(),
		MappingID:    mappingID,
	}
	if integ != nil {
		entry.IntegrationID = integ.ID
	}
	if err := e.log.Record(ctx, entry); err != nil {
		e.logger.WithError(err).Error("failed to write sync audit log entry")
	}
}
