package config

import (
	"encoding/hex"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is parsed once in main from the process environment.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"host=localhost user=postgres password=postgres dbname=ach_settlement port=5432 sslmode=disable"`
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`

	// 32-byte vault key, hex encoded, provisioned out-of-band.
	VaultKeyHex string `env:"VAULT_KEY"`

	// Origin identity stamped into every file.
	ODFIRoutingNumber string `env:"ODFI_ROUTING_NUMBER" envDefault:"076401251"`
	OriginID          string `env:"ORIGIN_ID" envDefault:"1234567890"`
	OriginName        string `env:"ORIGIN_NAME" envDefault:"ACH SETTLEMENT"`
	CompanyID         string `env:"COMPANY_ID" envDefault:"1234567890"`
	CompanyEntryDesc  string `env:"COMPANY_ENTRY_DESC" envDefault:"SETTLEMENT"`

	// Remote endpoint for file delivery and return pickup.
	SFTPHost        string `env:"SFTP_HOST"`
	SFTPPort        int    `env:"SFTP_PORT" envDefault:"22"`
	SFTPUser        string `env:"SFTP_USER"`
	SFTPOutboundDir string `env:"SFTP_OUTBOUND_DIR" envDefault:"/outbound"`
	SFTPReturnsDir  string `env:"SFTP_RETURNS_DIR" envDefault:"/returns"`
	// Vault ciphertext of the SFTP password, hex encoded.
	SFTPPasswordEnc string `env:"SFTP_PASSWORD_ENC"`
	// Pinned host key in authorized_keys format.
	SFTPHostKey            string `env:"SFTP_HOST_KEY"`
	SFTPInsecureSkipVerify bool   `env:"SFTP_INSECURE_SKIP_VERIFY" envDefault:"false"`
	SFTPForceNative        bool   `env:"SFTP_FORCE_NATIVE" envDefault:"false"`

	MaxUploadAttempts  int `env:"MAX_UPLOAD_ATTEMPTS" envDefault:"3"`
	UploadTimeoutSecs  int `env:"UPLOAD_TIMEOUT_SECS" envDefault:"60"`
	AuditRetentionDays int `env:"AUDIT_RETENTION_DAYS" envDefault:"365"`
	ReturnGraceDays    int `env:"RETURN_GRACE_DAYS" envDefault:"3"`

	VerifyRatePerMinute int `env:"VERIFY_RATE_PER_MINUTE" envDefault:"5"`
	VerifyRateBurst     int `env:"VERIFY_RATE_BURST" envDefault:"3"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// VaultKey decodes the hex key and enforces the AEAD key size.
func (c *Config) VaultKey() ([]byte, error) {
	key, err := hex.DecodeString(c.VaultKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode VAULT_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("VAULT_KEY must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Get satisfies the settings lookup the mapping layer resolves
// "setting"-sourced fields against.
func (c *Config) Get(key string) (string, bool) {
	switch key {
	case "odfi_routing_number":
		return c.ODFIRoutingNumber, true
	case "origin_id":
		return c.OriginID, true
	case "origin_name":
		return c.OriginName, true
	case "company_id":
		return c.CompanyID, true
	case "company_entry_description":
		return c.CompanyEntryDesc, true
	}
	return "", false
}
