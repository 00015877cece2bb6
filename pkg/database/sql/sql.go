// Package sql defines the relational connection contract implemented by the
// postgres, sqlite, mysql, and mssql adapters.
package sql

import (
	"context"
	"time"

	"github.com/chris-alexander-pop/system-design-library/pkg/database"
	"gorm.io/gorm"
)

// Config configures a relational connection. Name doubles as the SQLite
// filepath when Driver is database.DriverSQLite.
type Config struct {
	Driver   database.Driver `env:"DB_DRIVER" env-default:"sqlite"`
	Host     string          `env:"DB_HOST"`
	Port     string          `env:"DB_PORT"`
	User     string          `env:"DB_USER"`
	Password string          `env:"DB_PASSWORD"`
	Name     string          `env:"DB_NAME" env-default:"bridge.db"`
	SSLMode  string          `env:"DB_SSL_MODE" env-default:"disable"`

	SSLRootCert string `env:"DB_SSL_ROOT_CERT"`
	SSLCert     string `env:"DB_SSL_CERT"`
	SSLKey      string `env:"DB_SSL_KEY"`

	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"20"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"1h"`
}

// SQL is the interface every relational adapter implements.
type SQL interface {
	// Get returns a context-bound handle to the primary connection.
	Get(ctx context.Context) *gorm.DB

	// GetShard returns a connection for the given shard key. Single-instance
	// adapters return the primary connection regardless of key.
	GetShard(ctx context.Context, key string) (*gorm.DB, error)

	Close() error
}
