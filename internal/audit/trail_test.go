package audit

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ach-settlement-backend/internal/repository"
)

func newTestTrail() (*Trail, *repository.MemoryAuditRepository) {
	repo := repository.NewMemoryAuditRepository()
	return NewTrail(repo, zap.NewNop()), repo
}

func TestLogPersistsRedactedDetails(t *testing.T) {
	trail, _ := newTestTrail()

	trail.Log("batch.export", "batch", "b-1", map[string]interface{}{
		"file_name":      "ACH-20260830-0001.txt",
		"account_number": "000123456789",
		"routing_number": "021000021",
		"nested": map[string]interface{}{
			"sftp_password": "hunter2",
			"item_count":    3,
		},
	})

	events, err := trail.ForEntity("batch", "b-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	raw := string(events[0].Details)
	assert.NotContains(t, raw, "000123456789")
	assert.NotContains(t, raw, "021000021")
	assert.NotContains(t, raw, "hunter2")
	assert.Contains(t, raw, Redacted)
	assert.Contains(t, raw, "ACH-20260830-0001.txt")
	assert.Contains(t, raw, "item_count")
}

func TestRedactWalksSlices(t *testing.T) {
	out := Redact(map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"account_number": "123", "amount": 100},
		},
		"api_token": "tok_abc",
		"key":       "k",
		"batch_key": "visible",
	})

	items := out["items"].([]interface{})
	first := items[0].(map[string]interface{})
	assert.Equal(t, Redacted, first["account_number"])
	assert.Equal(t, 100, first["amount"])
	assert.Equal(t, Redacted, out["api_token"])
	assert.Equal(t, Redacted, out["key"])
	assert.Equal(t, "visible", out["batch_key"])
}

func TestBatchCorrelation(t *testing.T) {
	trail, _ := newTestTrail()
	batchID := uuid.New()

	trail.LogBatchAction("batch.build", batchID, nil)
	trail.LogBatchAction("batch.export", batchID, nil)
	trail.LogBatchAction("batch.upload", batchID, nil)
	trail.LogBatchAction("batch.build", uuid.New(), nil)

	events, err := trail.ByBatch(batchID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, events[0].CorrelationID, e.CorrelationID)
	}
}

func TestFailedInsertDoesNotPropagate(t *testing.T) {
	trail, repo := newTestTrail()
	repo.FailNext = errors.New("connection refused")

	// Must not panic or surface the error to the caller.
	id := trail.Log("batch.build", "batch", "b-1", nil)
	assert.NotEqual(t, uuid.Nil, id)
}

func TestExportCSV(t *testing.T) {
	trail, _ := newTestTrail()
	trail.Log("batch.build", "batch", "b-1", map[string]interface{}{"item_count": 3})

	var buf bytes.Buffer
	require.NoError(t, trail.ExportCSV(repository.AuditFilter{}, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "correlation_id")
	assert.Contains(t, lines[1], "batch.build")
}

func TestPurgeOldLogsAuditsItself(t *testing.T) {
	trail, _ := newTestTrail()
	now := time.Now()

	trail.WithClock(func() time.Time { return now.AddDate(0, 0, -400) })
	trail.Log("batch.build", "batch", "old", nil)

	trail.WithClock(func() time.Time { return now })
	trail.Log("batch.build", "batch", "recent", nil)

	deleted, err := trail.PurgeOldLogs(365)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	events, err := trail.Recent(repository.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	actions := []string{events[0].Action, events[1].Action}
	assert.Contains(t, actions, "audit.purge")
	for _, e := range events {
		assert.NotEqual(t, "old", e.EntityID)
	}
}
