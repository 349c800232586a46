package main

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ach-settlement-backend/internal/config"
	"ach-settlement-backend/internal/models"
	"ach-settlement-backend/internal/routes"
	"ach-settlement-backend/internal/vault"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	key, err := cfg.VaultKey()
	if err != nil {
		log.Fatalf("vault key: %v", err)
	}
	v, err := vault.New(key)
	if err != nil {
		log.Fatalf("init vault: %v", err)
	}

	db := config.InitDB(cfg.DatabaseURL)

	db.AutoMigrate(
		&models.PaymentAuthorization{},
		&models.Batch{},
		&models.BatchItem{},
		&models.ReturnRecord{},
		&models.AuditEvent{},
	)

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, db, cfg, v, logger)

	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
