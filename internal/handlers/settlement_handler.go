package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ach-settlement-backend/internal/audit"
	"ach-settlement-backend/internal/lifecycle"
	"ach-settlement-backend/internal/ratelimit"
	"ach-settlement-backend/internal/reconcile"
	"ach-settlement-backend/internal/repository"
	"ach-settlement-backend/internal/transport"
)

// SettlementHandler is the thin HTTP surface the hosting application's
// admin layer consumes. All semantics live in the internal packages.
type SettlementHandler struct {
	manager    *lifecycle.Manager
	engine     *reconcile.Engine
	batches    repository.BatchRepository
	returns    repository.ReturnRepository
	trail      *audit.Trail
	limiter    *ratelimit.Limiter
	client     transport.Client
	returnsDir string
}

func NewSettlementHandler(
	manager *lifecycle.Manager,
	engine *reconcile.Engine,
	batches repository.BatchRepository,
	returns repository.ReturnRepository,
	trail *audit.Trail,
	limiter *ratelimit.Limiter,
	client transport.Client,
	returnsDir string,
) *SettlementHandler {
	return &SettlementHandler{
		manager:    manager,
		engine:     engine,
		batches:    batches,
		returns:    returns,
		trail:      trail,
		limiter:    limiter,
		client:     client,
		returnsDir: returnsDir,
	}
}

func (h *SettlementHandler) ListBatches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	batches, err := h.batches.ListBatches(repository.BatchFilter{
		Status: c.Query("status"),
		Limit:  limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

func (h *SettlementHandler) GetBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch ID"})
		return
	}
	batch, err := h.batches.FindBatch(id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items, err := h.batches.FindItemsByBatch(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch, "items": items})
}

func (h *SettlementHandler) GetBatchAudit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch ID"})
		return
	}
	events, err := h.trail.ByBatch(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// TriggerRun is the "run now" entry point. An overlapping trigger gets
// a 409 and changes nothing.
func (h *SettlementHandler) TriggerRun(c *gin.Context) {
	report, err := h.manager.RunOnce(c.Request.Context())
	if errors.Is(err, lifecycle.ErrConcurrentRun) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (h *SettlementHandler) GetStatistics(c *gin.Context) {
	stats, err := h.batches.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetVerificationStatus is rate limited per caller and order to keep
// verification probing in check.
func (h *SettlementHandler) GetVerificationStatus(c *gin.Context) {
	orderRef := c.Param("orderRef")
	if !h.limiter.Allow(c.ClientIP() + "|" + orderRef) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many verification attempts"})
		return
	}
	items, err := h.batches.FindItemsByOrderRef(orderRef)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(items) == 0 {
		c.JSON(http.StatusOK, gin.H{"order_ref": orderRef, "status": "unbatched"})
		return
	}
	latest := items[0]
	c.JSON(http.StatusOK, gin.H{
		"order_ref":     orderRef,
		"status":        latest.Status,
		"trace_number":  latest.TraceNumber,
		"return_code":   latest.ReturnCode,
		"return_reason": latest.ReturnReason,
	})
}

func (h *SettlementHandler) ListReturns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.returns.ListReturns(repository.ReturnFilter{
		Status: c.Query("status"),
		Limit:  limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"returns": records})
}

// PollReturns pulls waiting return files from the processor's returns
// directory and ingests them.
func (h *SettlementHandler) PollReturns(c *gin.Context) {
	reports, err := h.engine.PollRemote(c.Request.Context(), h.client, h.returnsDir)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (h *SettlementHandler) RecentAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter := repository.AuditFilter{
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Limit:      limit,
	}

	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="audit.csv"`)
		if err := h.trail.ExportCSV(filter, c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	events, err := h.trail.Recent(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
