// Package audit keeps the append-only, correlation-grouped event log.
// Every detail payload is scrubbed against the sensitive-key denylist
// before it can reach the store; callers cannot opt out.
package audit

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ach-settlement-backend/internal/models"
	"ach-settlement-backend/internal/repository"
)

const Redacted = "[REDACTED]"

// Substrings that mark a detail key as sensitive.
var sensitiveKeys = []string{
	"account_number",
	"routing_number",
	"account_no",
	"routing_no",
	"password",
	"token",
	"secret",
	"private_key",
	"api_key",
	"credential",
}

// batchCorrelationNS namespaces deterministic batch correlation ids so
// every event of one batch run groups under the same id without any
// shared mutable state.
var batchCorrelationNS = uuid.MustParse("9f2d3a31-47c5-4a0f-9788-55a1c73f03b2")

type Clock func() time.Time

type Trail struct {
	repo  repository.AuditRepository
	log   *zap.Logger
	clock Clock
	actor string
}

func NewTrail(repo repository.AuditRepository, log *zap.Logger) *Trail {
	return &Trail{
		repo:  repo,
		log:   log,
		clock: time.Now,
		actor: "system",
	}
}

// WithClock swaps the time source, for tests.
func (t *Trail) WithClock(clock Clock) *Trail {
	t.clock = clock
	return t
}

// Log appends one event. A failed insert is reported on the error log
// and swallowed: the audit path must never abort the batch operation
// that triggered it.
func (t *Trail) Log(action, entityType, entityID string, details map[string]interface{}) uuid.UUID {
	return t.logWith(uuid.New(), action, entityType, entityID, details)
}

// LogBatchAction groups every event of one batch under a correlation id
// derived from the batch id.
func (t *Trail) LogBatchAction(action string, batchID uuid.UUID, details map[string]interface{}) uuid.UUID {
	correlation := uuid.NewSHA1(batchCorrelationNS, batchID[:])
	return t.logWith(correlation, action, "batch", batchID.String(), details)
}

func (t *Trail) logWith(correlation uuid.UUID, action, entityType, entityID string, details map[string]interface{}) uuid.UUID {
	payload, err := json.Marshal(Redact(details))
	if err != nil {
		payload = []byte(`{}`)
	}
	event := &models.AuditEvent{
		ID:            uuid.New(),
		CorrelationID: correlation,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Actor:         t.actor,
		Details:       payload,
		CreatedAt:     t.clock(),
	}
	if err := t.repo.Insert(event); err != nil {
		t.log.Error("audit insert failed",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
	return event.ID
}

func (t *Trail) ForEntity(entityType, entityID string, limit int) ([]models.AuditEvent, error) {
	return t.repo.ForEntity(entityType, entityID, limit)
}

func (t *Trail) ByCorrelation(correlationID uuid.UUID) ([]models.AuditEvent, error) {
	return t.repo.ByCorrelation(correlationID)
}

// ByBatch lists every event correlated to one batch run.
func (t *Trail) ByBatch(batchID uuid.UUID) ([]models.AuditEvent, error) {
	return t.repo.ByCorrelation(uuid.NewSHA1(batchCorrelationNS, batchID[:]))
}

func (t *Trail) Recent(filter repository.AuditFilter) ([]models.AuditEvent, error) {
	return t.repo.Recent(filter)
}

// ExportCSV streams matching events in a stable column order.
func (t *Trail) ExportCSV(filter repository.AuditFilter, w io.Writer) error {
	events, err := t.repo.Recent(filter)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "correlation_id", "action", "entity_type", "entity_id", "actor", "details", "created_at"}); err != nil {
		return err
	}
	for _, e := range events {
		row := []string{
			e.ID.String(),
			e.CorrelationID.String(),
			e.Action,
			e.EntityType,
			e.EntityID,
			e.Actor,
			string(e.Details),
			e.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// PurgeOldLogs deletes events past retention and records the purge
// itself as a fresh event.
func (t *Trail) PurgeOldLogs(retentionDays int) (int64, error) {
	cutoff := t.clock().AddDate(0, 0, -retentionDays)
	deleted, err := t.repo.DeleteOlderThan(cutoff)
	if err != nil {
		return 0, err
	}
	t.Log("audit.purge", "audit", "", map[string]interface{}{
		"retention_days": retentionDays,
		"deleted_rows":   deleted,
		"cutoff":         cutoff.Format(time.RFC3339),
	})
	return deleted, nil
}

// Redact walks the payload and replaces any value whose key matches the
// denylist. Nested maps and slices are walked recursively.
func Redact(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		return Redact(vv)
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, item := range vv {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	// A bare "key" is sensitive; "batch_key"-style identifiers are not.
	return k == "key"
}
