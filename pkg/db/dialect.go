package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialect picks the gorm dialector for cfg.Type. Idempotent writes use
// ON CONFLICT, so only postgres and sqlite are accepted. The sqlite dialect
// uses the pure Go driver and treats Name as the file path.
func Dialect(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, cfg.SSLMode,
		)), nil
	case "sqlite":
		name := cfg.Name
		if name == "" {
			name = "yardcraft.db"
		}
		return sqlite.Open(name + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// ForUpdate returns the row-lock suffix for db's dialect. SQLite serializes
// writers and rejects the clause.
func ForUpdate(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}
