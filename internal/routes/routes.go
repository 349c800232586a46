package routes

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ach-settlement-backend/internal/audit"
	"ach-settlement-backend/internal/config"
	handler "ach-settlement-backend/internal/handlers"
	"ach-settlement-backend/internal/lifecycle"
	"ach-settlement-backend/internal/mapping"
	"ach-settlement-backend/internal/nacha"
	"ach-settlement-backend/internal/ratelimit"
	"ach-settlement-backend/internal/reconcile"
	"ach-settlement-backend/internal/repository"
	"ach-settlement-backend/internal/transport"
	"ach-settlement-backend/internal/vault"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg *config.Config, v *vault.Vault, logger *zap.Logger) {
	batchRepo := repository.NewGormBatchRepository(db)
	returnRepo := repository.NewGormReturnRepository(db)
	auditRepo := repository.NewGormAuditRepository(db)
	source := repository.NewGormAuthorizationSource(db)

	trail := audit.NewTrail(auditRepo, logger)
	store := mapping.NewStore(cfg)
	encoder := nacha.NewEncoder(store, v)

	caps := transport.Detect(cfg.SFTPHost, cfg.SFTPForceNative)
	client := transport.New(transport.Select(caps), sftpCredentials(cfg, v), caps)

	manager := lifecycle.NewManager(
		batchRepo, source, store, encoder, v, client,
		time.Now, logger,
		lifecycle.Config{
			ODFIRoutingNumber: cfg.ODFIRoutingNumber,
			OutboundDir:       cfg.SFTPOutboundDir,
			MaxUploadAttempts: cfg.MaxUploadAttempts,
			UploadTimeout:     time.Duration(cfg.UploadTimeoutSecs) * time.Second,
		},
	)
	manager.Observe(func(action string, batchID uuid.UUID, details map[string]interface{}) {
		trail.LogBatchAction(action, batchID, details)
	})

	engine := reconcile.NewEngine(batchRepo, returnRepo, time.Now, logger, cfg.ReturnGraceDays)
	engine.Observe(func(action string, batchID uuid.UUID, details map[string]interface{}) {
		trail.LogBatchAction(action, batchID, details)
	})

	limiter := ratelimit.New(cfg.VerifyRatePerMinute, cfg.VerifyRateBurst)

	h := handler.NewSettlementHandler(
		manager, engine, batchRepo, returnRepo, trail, limiter, client, cfg.SFTPReturnsDir,
	)

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	batches := api.Group("/batches")
	batches.GET("", h.ListBatches)
	batches.GET("/:id", h.GetBatch)
	batches.GET("/:id/audit", h.GetBatchAudit)

	api.POST("/runs", h.TriggerRun)
	api.GET("/statistics", h.GetStatistics)
	api.GET("/verification/:orderRef", h.GetVerificationStatus)

	returns := api.Group("/returns")
	returns.GET("", h.ListReturns)
	returns.POST("/poll", h.PollReturns)

	api.GET("/audit", h.RecentAudit)
}

// sftpCredentials decrypts the stored SFTP password on each connect so
// the plaintext never sits in long-lived state.
func sftpCredentials(cfg *config.Config, v *vault.Vault) transport.CredentialSource {
	return func() (transport.Credentials, error) {
		creds := transport.Credentials{
			Host:               cfg.SFTPHost,
			Port:               cfg.SFTPPort,
			User:               cfg.SFTPUser,
			HostKey:            []byte(cfg.SFTPHostKey),
			InsecureSkipVerify: cfg.SFTPInsecureSkipVerify,
		}
		if cfg.SFTPPasswordEnc == "" {
			return creds, nil
		}
		blob, err := hex.DecodeString(cfg.SFTPPasswordEnc)
		if err != nil {
			return creds, fmt.Errorf("decode SFTP_PASSWORD_ENC: %w", err)
		}
		password, err := v.Decrypt(blob)
		if err != nil {
			return creds, fmt.Errorf("decrypt SFTP password: %w", err)
		}
		creds.Password = password
		return creds, nil
	}
}
