// Package reconcile consumes processor return files and advances the
// state of previously exported items. Unknown trace numbers are kept as
// orphaned return records, never dropped; they may belong to a batch
// built by a prior system instance.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ach-settlement-backend/internal/models"
	"ach-settlement-backend/internal/nacha"
	"ach-settlement-backend/internal/repository"
	"ach-settlement-backend/internal/transport"
)

type Clock func() time.Time

type Observer func(action string, batchID uuid.UUID, details map[string]interface{})

// Report summarizes one return-file ingestion.
type Report struct {
	FileName    string               `json:"file_name"`
	Matched     int                  `json:"matched"`
	Unmatched   []string             `json:"unmatched,omitempty"` // trace numbers
	ParseErrors []string             `json:"parse_errors,omitempty"`
	Batches     map[uuid.UUID]string `json:"batches,omitempty"` // batch id -> final status
}

type Engine struct {
	batches   repository.BatchRepository
	returns   repository.ReturnRepository
	clock     Clock
	log       *zap.Logger
	graceDays int
	observers []Observer
}

func NewEngine(
	batches repository.BatchRepository,
	returns repository.ReturnRepository,
	clock Clock,
	log *zap.Logger,
	graceDays int,
) *Engine {
	if graceDays <= 0 {
		graceDays = 3
	}
	return &Engine{
		batches:   batches,
		returns:   returns,
		clock:     clock,
		log:       log,
		graceDays: graceDays,
	}
}

func (e *Engine) Observe(o Observer) {
	e.observers = append(e.observers, o)
}

func (e *Engine) emit(action string, batchID uuid.UUID, details map[string]interface{}) {
	for _, o := range e.observers {
		o(action, batchID, details)
	}
}

// Ingest decodes a return file and matches each record to its item by
// trace number. Matched items move to returned; after the sweep every
// touched batch lands on returned or reconciled. The orphan grace
// window is swept on the same pass.
func (e *Engine) Ingest(fileName string, data []byte) (*Report, error) {
	entries, parseErrors := nacha.DecodeReturns(data)
	report := &Report{
		FileName: fileName,
		Batches:  make(map[uuid.UUID]string),
	}
	for _, perr := range parseErrors {
		report.ParseErrors = append(report.ParseErrors, perr.Error())
		e.log.Warn("return file line skipped",
			zap.String("file_name", fileName),
			zap.Int("line", perr.Line),
			zap.String("reason", perr.Reason))
	}
	if len(entries) == 0 && len(parseErrors) == 0 {
		return report, fmt.Errorf("reconcile: %s contains no return entries", fileName)
	}

	now := e.clock()
	touched := make(map[uuid.UUID]bool)

	for _, entry := range entries {
		record := &models.ReturnRecord{
			ID:           uuid.New(),
			FileName:     fileName,
			TraceNumber:  entry.TraceNumber,
			ReturnCode:   entry.ReturnCode,
			ReturnReason: entry.Reason,
			Amount:       entry.Amount,
			ProcessedAt:  now,
			CreatedAt:    now,
		}

		item, err := e.batches.FindItemByTrace(entry.TraceNumber)
		if errors.Is(err, repository.ErrNotFound) {
			record.Status = models.ReturnPending
			if err := e.returns.SaveReturn(record); err != nil {
				return report, err
			}
			report.Unmatched = append(report.Unmatched, entry.TraceNumber)
			e.emit("return.orphan", uuid.Nil, map[string]interface{}{
				"file_name":    fileName,
				"trace_number": entry.TraceNumber,
				"return_code":  entry.ReturnCode,
			})
			continue
		}
		if err != nil {
			return report, err
		}

		item.Status = models.ItemReturned
		item.ReturnCode = entry.ReturnCode
		item.ReturnReason = entry.Reason
		if err := e.batches.SaveItem(item); err != nil {
			return report, err
		}

		record.Status = models.ReturnMatched
		record.BatchID = &item.BatchID
		if err := e.returns.SaveReturn(record); err != nil {
			return report, err
		}
		if !touched[item.BatchID] {
			if err := e.markReconciling(item.BatchID); err != nil {
				return report, err
			}
		}
		touched[item.BatchID] = true
		report.Matched++
		e.emit("return.matched", item.BatchID, map[string]interface{}{
			"file_name":    fileName,
			"trace_number": entry.TraceNumber,
			"return_code":  entry.ReturnCode,
			"order_ref":    item.OrderRef,
		})
	}

	for batchID := range touched {
		status, err := e.finishBatch(batchID)
		if err != nil {
			return report, err
		}
		report.Batches[batchID] = status
	}

	if err := e.sweepGracePeriod(now); err != nil {
		return report, err
	}
	return report, nil
}

// Settle marks every still-uploaded item of a batch settled and the
// batch reconciled. Callers invoke it once the processor's return
// window for the batch has passed.
func (e *Engine) Settle(batchID uuid.UUID) error {
	batch, err := e.batches.FindBatch(batchID)
	if err != nil {
		return err
	}
	if batch.Status != models.BatchUploaded && batch.Status != models.BatchReconciling {
		return fmt.Errorf("reconcile: cannot settle batch in status %q", batch.Status)
	}
	if err := e.markReconciling(batchID); err != nil {
		return err
	}

	items, err := e.batches.FindItemsByBatch(batchID)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].Status == models.ItemUploaded {
			items[i].Status = models.ItemSettled
			if err := e.batches.SaveItem(&items[i]); err != nil {
				return err
			}
		}
	}
	_, err = e.finishBatch(batchID)
	return err
}

// markReconciling moves an uploaded batch into reconciling while its
// return records are applied, so a crash mid-file leaves the batch in
// an inspectable intermediate state rather than still "uploaded".
func (e *Engine) markReconciling(batchID uuid.UUID) error {
	batch, err := e.batches.FindBatch(batchID)
	if err != nil {
		return err
	}
	if batch.Status != models.BatchUploaded {
		return nil
	}
	batch.Status = models.BatchReconciling
	return e.batches.SaveBatch(batch)
}

// finishBatch lands the batch on returned or reconciled; item statuses
// are left as the sweep set them.
func (e *Engine) finishBatch(batchID uuid.UUID) (string, error) {
	batch, err := e.batches.FindBatch(batchID)
	if err != nil {
		return "", err
	}
	items, err := e.batches.FindItemsByBatch(batchID)
	if err != nil {
		return "", err
	}

	anyReturned := false
	for i := range items {
		if items[i].Status == models.ItemReturned {
			anyReturned = true
		}
	}

	if anyReturned {
		batch.Status = models.BatchReturned
	} else {
		batch.Status = models.BatchReconciled
	}
	if err := e.batches.SaveBatch(batch); err != nil {
		return "", err
	}
	e.emit("batch.reconciled", batchID, map[string]interface{}{
		"status": batch.Status,
	})
	return batch.Status, nil
}

// PollRemote downloads every file waiting in the processor's returns
// directory, ingests each, and deletes the remote copy once its records
// are persisted. A file that fails to ingest stays on the remote for
// the next poll.
func (e *Engine) PollRemote(ctx context.Context, client transport.Client, dir string) ([]*Report, error) {
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer client.Disconnect()

	names, err := client.List(ctx, dir)
	if err != nil {
		return nil, err
	}

	var reports []*Report
	for _, name := range names {
		data, err := client.Download(ctx, dir, name)
		if err != nil {
			e.log.Error("return file download failed", zap.String("file_name", name), zap.Error(err))
			e.emit("return.poll_failed", uuid.Nil, map[string]interface{}{
				"file_name": name,
				"stage":     "download",
				"error":     err.Error(),
			})
			continue
		}
		report, err := e.Ingest(name, data)
		if err != nil {
			e.log.Error("return file ingest failed", zap.String("file_name", name), zap.Error(err))
			e.emit("return.poll_failed", uuid.Nil, map[string]interface{}{
				"file_name": name,
				"stage":     "ingest",
				"error":     err.Error(),
			})
			continue
		}
		reports = append(reports, report)
		if err := client.Delete(ctx, dir, name); err != nil {
			e.log.Warn("return file cleanup failed", zap.String("file_name", name), zap.Error(err))
		}
	}
	return reports, nil
}

// sweepGracePeriod makes orphans terminal once they have waited long
// enough for a prior-instance batch import to claim them.
func (e *Engine) sweepGracePeriod(now time.Time) error {
	cutoff := now.AddDate(0, 0, -e.graceDays)
	stale, err := e.returns.PendingOlderThan(cutoff)
	if err != nil {
		return err
	}
	for i := range stale {
		stale[i].Status = models.ReturnUnmatched
		if err := e.returns.SaveReturn(&stale[i]); err != nil {
			return err
		}
		e.emit("return.unmatched", uuid.Nil, map[string]interface{}{
			"trace_number": stale[i].TraceNumber,
			"file_name":    stale[i].FileName,
		})
	}
	return nil
}
