// Package lifecycle owns the batch state machine: select eligible
// authorizations, validate, build, encode, deliver, and hand the result
// to reconciliation. A single run-lock keeps batch construction
// single-writer; trace-number sequencing is only correct under it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ach-settlement-backend/internal/mapping"
	"ach-settlement-backend/internal/models"
	"ach-settlement-backend/internal/nacha"
	"ach-settlement-backend/internal/repository"
	"ach-settlement-backend/internal/transport"
	"ach-settlement-backend/internal/vault"
)

var (
	// ErrEmptyBatch means every candidate item failed validation.
	ErrEmptyBatch = errors.New("lifecycle: no valid items remain for the batch")
	// ErrConcurrentRun rejects an overlapping RunOnce without touching state.
	ErrConcurrentRun = errors.New("lifecycle: another run is already in progress")
)

// Each batch sequence window carries this many trace numbers.
const traceWindow = 1000

// ValidationError excludes one item and leaves the batch build running.
type ValidationError struct {
	OrderRef string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("lifecycle: order %s: %s", e.OrderRef, e.Reason)
}

// OrderSource is the hosting application's side of the contract.
type OrderSource interface {
	GetVerifiedUnbatched(asOf time.Time) ([]models.PaymentAuthorization, error)
	GetAuthorization(orderRef string) (*models.PaymentAuthorization, error)
}

type Clock func() time.Time

// Observer receives synchronous lifecycle events. The audit trail is
// the standing observer; there is no dispatch bus.
type Observer func(action string, batchID uuid.UUID, details map[string]interface{})

// RunReport is the per-run outcome handed back to the trigger.
type RunReport struct {
	BatchID            *uuid.UUID        `json:"batch_id,omitempty"`
	FileName           string            `json:"file_name,omitempty"`
	SelectedCount      int               `json:"selected_count"`
	ExcludedInFlight   int               `json:"excluded_in_flight"`
	ValidationFailures []ValidationError `json:"validation_failures,omitempty"`
	ItemCount          int               `json:"item_count"`
	TotalDebit         int64             `json:"total_debit"`
	TotalCredit        int64             `json:"total_credit"`
	Uploaded           bool              `json:"uploaded"`
	NoWork             bool              `json:"no_work"`
	Error              string            `json:"error,omitempty"`
}

type Config struct {
	ProfileName       string
	ODFIRoutingNumber string
	OutboundDir       string
	MaxUploadAttempts int
	UploadTimeout     time.Duration
	RetryInterval     time.Duration
}

type Manager struct {
	repo      repository.BatchRepository
	source    OrderSource
	store     *mapping.Store
	encoder   *nacha.Encoder
	vault     *vault.Vault
	client    transport.Client
	clock     Clock
	log       *zap.Logger
	cfg       Config
	observers []Observer

	runMu sync.Mutex
}

func NewManager(
	repo repository.BatchRepository,
	source OrderSource,
	store *mapping.Store,
	encoder *nacha.Encoder,
	v *vault.Vault,
	client transport.Client,
	clock Clock,
	log *zap.Logger,
	cfg Config,
) *Manager {
	if cfg.ProfileName == "" {
		cfg.ProfileName = "ppd-default"
	}
	if cfg.MaxUploadAttempts <= 0 {
		cfg.MaxUploadAttempts = 3
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = time.Minute
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &Manager{
		repo:    repo,
		source:  source,
		store:   store,
		encoder: encoder,
		vault:   v,
		client:  client,
		clock:   clock,
		log:     log,
		cfg:     cfg,
	}
}

// Observe registers a synchronous lifecycle observer.
func (m *Manager) Observe(o Observer) {
	m.observers = append(m.observers, o)
}

func (m *Manager) emit(action string, batchID uuid.UUID, details map[string]interface{}) {
	for _, o := range m.observers {
		o(action, batchID, details)
	}
}

// SelectEligible pulls verified, unbatched authorizations and drops any
// whose order is already in flight or came back returned and unresolved.
func (m *Manager) SelectEligible(asOf time.Time) (eligible []models.PaymentAuthorization, excluded int, err error) {
	auths, err := m.source.GetVerifiedUnbatched(asOf)
	if err != nil {
		return nil, 0, fmt.Errorf("order source: %w", err)
	}
	inFlight, err := m.repo.OrderRefsInFlight()
	if err != nil {
		return nil, 0, err
	}
	for _, auth := range auths {
		if inFlight[auth.OrderRef] {
			excluded++
			continue
		}
		eligible = append(eligible, auth)
	}
	return eligible, excluded, nil
}

// BuildBatch validates every authorization, excluding failures one by
// one, and persists the batch with its items, totals and entry hash.
// Trace numbers come from the batch's sequence window.
func (m *Manager) BuildBatch(auths []models.PaymentAuthorization) (*models.Batch, []models.BatchItem, []ValidationError, error) {
	now := m.clock()

	var failures []ValidationError
	var valid []models.PaymentAuthorization
	var entryHash int64
	for i := range auths {
		auth := &auths[i]
		hashPart, verr := m.validate(auth)
		if verr != nil {
			failures = append(failures, *verr)
			m.emit("item.rejected", uuid.Nil, map[string]interface{}{
				"order_ref": auth.OrderRef,
				"reason":    verr.Reason,
			})
			continue
		}
		entryHash += hashPart
		valid = append(valid, *auth)
	}
	if len(valid) == 0 {
		return nil, nil, failures, ErrEmptyBatch
	}
	if len(valid) > traceWindow {
		return nil, nil, failures, fmt.Errorf("lifecycle: %d items exceed the %d-entry sequence window", len(valid), traceWindow)
	}

	seq, err := m.repo.NextSequenceNumber()
	if err != nil {
		return nil, nil, failures, err
	}

	batch := &models.Batch{
		ID:             uuid.New(),
		Status:         models.BatchValidated,
		SequenceNumber: seq,
		CreatedAt:      now,
	}
	batch.FileName = fmt.Sprintf("ACH-%s-%s.txt", now.Format("20060102"), batch.ID)

	odfiID := m.cfg.ODFIRoutingNumber
	if len(odfiID) > 8 {
		odfiID = odfiID[:8]
	}
	base := (seq - 1) * traceWindow
	items := make([]models.BatchItem, 0, len(valid))
	for i := range valid {
		auth := &valid[i]
		items = append(items, models.BatchItem{
			ID:              uuid.New(),
			BatchID:         batch.ID,
			OrderRef:        auth.OrderRef,
			TraceNumber:     nacha.TraceNumber(odfiID, base+i+1),
			Amount:          auth.AmountCents(),
			TransactionCode: auth.TransactionCode(),
			AccountLast4:    auth.AccountLast4,
			Status:          models.ItemIncluded,
			CreatedAt:       now,
		})
	}

	batch.ItemCount, batch.TotalDebit, batch.TotalCredit = nacha.Totals(items)
	batch.EntryHash = entryHash % 10_000_000_000
	batch.Status = models.BatchBuilt

	if err := m.repo.SaveBatch(batch); err != nil {
		return nil, nil, failures, err
	}
	refs := make([]*models.BatchItem, len(items))
	for i := range items {
		refs[i] = &items[i]
	}
	if err := m.repo.SaveItems(refs); err != nil {
		return nil, nil, failures, err
	}

	m.emit("batch.build", batch.ID, map[string]interface{}{
		"file_name":    batch.FileName,
		"item_count":   batch.ItemCount,
		"total_debit":  batch.TotalDebit,
		"total_credit": batch.TotalCredit,
		"entry_hash":   batch.EntryHash,
		"rejected":     len(failures),
	})
	return batch, items, failures, nil
}

// validate trial-decrypts the bank details and checks everything the
// encoder will need, returning the routing contribution to the entry
// hash. Plaintext buffers are wiped before return.
func (m *Manager) validate(auth *models.PaymentAuthorization) (int64, *ValidationError) {
	if auth.AmountCents() <= 0 {
		return 0, &ValidationError{OrderRef: auth.OrderRef, Reason: "amount must be positive"}
	}
	if auth.Direction != models.DirectionDebit && auth.Direction != models.DirectionCredit {
		return 0, &ValidationError{OrderRef: auth.OrderRef, Reason: "unknown direction " + auth.Direction}
	}
	if auth.ReceiverName == "" {
		return 0, &ValidationError{OrderRef: auth.OrderRef, Reason: "receiver name missing"}
	}

	routing, err := m.vault.Decrypt(auth.RoutingEncrypted)
	if err != nil {
		return 0, &ValidationError{OrderRef: auth.OrderRef, Reason: "routing number undecryptable"}
	}
	defer vault.Zero(routing)
	if len(routing) != 9 {
		return 0, &ValidationError{OrderRef: auth.OrderRef, Reason: "routing number must be 9 digits"}
	}
	first8, err := strconv.ParseInt(string(routing[:8]), 10, 64)
	if err != nil {
		return 0, &ValidationError{OrderRef: auth.OrderRef, Reason: "routing number contains non-digits"}
	}

	account, err := m.vault.Decrypt(auth.AccountEncrypted)
	if err != nil {
		return 0, &ValidationError{OrderRef: auth.OrderRef, Reason: "account number undecryptable"}
	}
	vault.Zero(account)

	return first8, nil
}

// Export encodes the built batch. On EncodingError the batch is marked
// failed and nothing is transmitted; file bytes are returned otherwise.
func (m *Manager) Export(batch *models.Batch) ([]byte, error) {
	if batch.Status != models.BatchBuilt && batch.Status != models.BatchExported {
		return nil, fmt.Errorf("lifecycle: cannot export batch in status %q", batch.Status)
	}

	items, err := m.repo.FindItemsByBatch(batch.ID)
	if err != nil {
		return nil, err
	}
	entries := make([]nacha.Entry, 0, len(items))
	for i := range items {
		auth, err := m.source.GetAuthorization(items[i].OrderRef)
		if err != nil {
			return m.failBatch(batch, fmt.Errorf("authorization for %s: %w", items[i].OrderRef, err))
		}
		entries = append(entries, nacha.Entry{Item: &items[i], Auth: auth})
	}

	profile, err := m.store.Get(m.cfg.ProfileName)
	if err != nil {
		return m.failBatch(batch, err)
	}

	data, err := m.encoder.Encode(batch, entries, profile, &mapping.FieldContext{Now: m.clock()})
	if err != nil {
		return m.failBatch(batch, err)
	}

	now := m.clock()
	batch.Status = models.BatchExported
	batch.ExportedAt = &now
	if err := m.repo.SaveBatch(batch); err != nil {
		return nil, err
	}
	m.emit("batch.export", batch.ID, map[string]interface{}{
		"file_name": batch.FileName,
		"bytes":     len(data),
	})
	return data, nil
}

func (m *Manager) failBatch(batch *models.Batch, cause error) ([]byte, error) {
	batch.Status = models.BatchFailed
	batch.LastError = cause.Error()
	if err := m.repo.SaveBatch(batch); err != nil {
		m.log.Error("persist failed batch", zap.String("batch_id", batch.ID.String()), zap.Error(err))
	}
	m.emit("batch.failed", batch.ID, map[string]interface{}{"error": cause.Error()})
	return nil, cause
}

// Upload delivers the exported file, retrying with exponential backoff
// inside the remaining attempt budget. The remote name encodes the
// batch id, so a retried upload overwrites rather than duplicates. On
// cancellation or transport failure the batch stays exported; once the
// budget is spent it is marked failed for manual intervention.
func (m *Manager) Upload(ctx context.Context, batch *models.Batch, data []byte) error {
	if batch.Status != models.BatchExported {
		return fmt.Errorf("lifecycle: cannot upload batch in status %q", batch.Status)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.RetryInterval
	policy.MaxInterval = 30 * time.Second

	var lastErr error
	for batch.UploadAttempts < m.cfg.MaxUploadAttempts {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-flight: exported, safe to retry later.
			return &transport.TransportError{Op: "upload", Reason: err.Error()}
		}

		batch.UploadAttempts++
		if err := m.repo.SaveBatch(batch); err != nil {
			return err
		}

		lastErr = m.attemptUpload(ctx, batch, data)
		if lastErr == nil {
			now := m.clock()
			batch.Status = models.BatchUploaded
			batch.UploadedAt = &now
			batch.LastError = ""
			if err := m.repo.SaveBatch(batch); err != nil {
				return err
			}
			if err := m.markItemsUploaded(batch.ID); err != nil {
				return err
			}
			m.emit("batch.upload", batch.ID, map[string]interface{}{
				"file_name": batch.FileName,
				"attempts":  batch.UploadAttempts,
			})
			return nil
		}

		batch.LastError = lastErr.Error()
		if err := m.repo.SaveBatch(batch); err != nil {
			return err
		}
		m.emit("batch.upload_failed", batch.ID, map[string]interface{}{
			"attempt": batch.UploadAttempts,
			"error":   lastErr.Error(),
		})

		if batch.UploadAttempts < m.cfg.MaxUploadAttempts {
			select {
			case <-ctx.Done():
				return &transport.TransportError{Op: "upload", Reason: ctx.Err().Error()}
			case <-time.After(policy.NextBackOff()):
			}
		}
	}

	if lastErr == nil {
		lastErr = &transport.TransportError{Op: "upload", Reason: "attempt budget exhausted"}
	}
	batch.Status = models.BatchFailed
	if err := m.repo.SaveBatch(batch); err != nil {
		return err
	}
	m.emit("batch.failed", batch.ID, map[string]interface{}{
		"error":    lastErr.Error(),
		"attempts": batch.UploadAttempts,
	})
	return lastErr
}

func (m *Manager) attemptUpload(ctx context.Context, batch *models.Batch, data []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.UploadTimeout)
	defer cancel()

	if err := m.client.Connect(attemptCtx); err != nil {
		return err
	}
	defer m.client.Disconnect()
	return m.client.Upload(attemptCtx, m.cfg.OutboundDir, batch.FileName, data)
}

func (m *Manager) markItemsUploaded(batchID uuid.UUID) error {
	items, err := m.repo.FindItemsByBatch(batchID)
	if err != nil {
		return err
	}
	for i := range items {
		items[i].Status = models.ItemUploaded
		if err := m.repo.SaveItem(&items[i]); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce is the single entry point the external trigger calls. It
// holds the run-lock for the whole select-build-export-upload pass; an
// overlapping call observes ErrConcurrentRun and changes nothing.
func (m *Manager) RunOnce(ctx context.Context) (*RunReport, error) {
	if !m.runMu.TryLock() {
		m.emit("run.rejected", uuid.Nil, map[string]interface{}{"reason": ErrConcurrentRun.Error()})
		return nil, ErrConcurrentRun
	}
	defer m.runMu.Unlock()

	report := &RunReport{}

	eligible, excluded, err := m.SelectEligible(m.clock())
	if err != nil {
		report.Error = err.Error()
		m.emit("run.failed", uuid.Nil, map[string]interface{}{"error": err.Error()})
		return report, err
	}
	report.SelectedCount = len(eligible)
	report.ExcludedInFlight = excluded
	if len(eligible) == 0 {
		report.NoWork = true
		m.emit("run.no_work", uuid.Nil, nil)
		return report, nil
	}

	batch, items, failures, err := m.BuildBatch(eligible)
	report.ValidationFailures = failures
	if err != nil {
		report.Error = err.Error()
		if errors.Is(err, ErrEmptyBatch) {
			m.emit("run.empty", uuid.Nil, map[string]interface{}{"rejected": len(failures)})
		}
		return report, err
	}
	report.BatchID = &batch.ID
	report.FileName = batch.FileName
	report.ItemCount = len(items)
	report.TotalDebit = batch.TotalDebit
	report.TotalCredit = batch.TotalCredit

	data, err := m.Export(batch)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}

	if err := m.Upload(ctx, batch, data); err != nil {
		report.Error = err.Error()
		return report, err
	}
	report.Uploaded = true

	m.log.Info("run complete",
		zap.String("batch_id", batch.ID.String()),
		zap.String("file_name", batch.FileName),
		zap.Int("items", report.ItemCount))
	return report, nil
}
