// Package database defines the DB abstraction shared by the relational,
// document, key-value, and vector storage backends, and the GORM logger
// adapter every relational adapter wires into its *gorm.DB.
package database

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Driver identifies a relational backend.
type Driver string

const (
	DriverPostgres  Driver = "postgres"
	DriverSQLite    Driver = "sqlite"
	DriverMySQL     Driver = "mysql"
	DriverSQLServer Driver = "sqlserver"
)

// DB is the manager-level interface every relational/document/kv/vector
// backend exposes. Most components only need Get and Close; GetShard exists
// for the few callers that partition data by key, GetDocument/GetKV/GetVector
// let a single DB value expose secondary storage handles when a deployment
// colocates them.
type DB interface {
	Get(ctx context.Context) *gorm.DB
	GetShard(ctx context.Context, key string) (*gorm.DB, error)
	GetDocument(ctx context.Context) interface{}
	GetKV(ctx context.Context) interface{}
	GetVector(ctx context.Context) interface{}
	Close() error
}

// relationalConn is the subset of sql.SQL a Manager wraps. Declared locally
// (rather than importing pkg/database/sql) to avoid a package import cycle,
// since sql.Config embeds this package's Driver type.
type relationalConn interface {
	Get(ctx context.Context) *gorm.DB
	GetShard(ctx context.Context, key string) (*gorm.DB, error)
	Close() error
}

// Manager adapts a relational sql.SQL connection to the full DB interface.
// This deployment has no document, key-value, or vector store of its own —
// the bridge's shared KV lives in pkg/cache instead — so those accessors
// return nil.
type Manager struct {
	sql relationalConn
}

// NewManager wraps a relational connection (typically one of the
// postgres/sqlite/mysql/mssql adapters) as a DB.
func NewManager(sql relationalConn) *Manager {
	return &Manager{sql: sql}
}

func (m *Manager) Get(ctx context.Context) *gorm.DB {
	return m.sql.Get(ctx)
}

func (m *Manager) GetShard(ctx context.Context, key string) (*gorm.DB, error) {
	return m.sql.GetShard(ctx, key)
}

func (m *Manager) GetDocument(ctx context.Context) interface{} { return nil }

func (m *Manager) GetKV(ctx context.Context) interface{} { return nil }

func (m *Manager) GetVector(ctx context.Context) interface{} { return nil }

func (m *Manager) Close() error {
	return m.sql.Close()
}

// gormLogWriter adapts gorm's logger.Writer to pkg/logger's structured output.
type gormLogWriter struct{}

func (gormLogWriter) Printf(format string, args ...interface{}) {
	logger.L().Info(fmt.Sprintf(format, args...))
}

// NewGORMLogger returns a gorm logger.Interface that routes SQL logging
// through pkg/logger instead of gorm's default stdlib logger.
func NewGORMLogger() gormlogger.Interface {
	return gormlogger.New(gormLogWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// LoadTLSConfig builds a *tls.Config for a relational driver from a
// sslmode plus optional PEM file paths. It returns (nil, nil) when none of
// the three PEM paths is set, whatever sslMode is (the driver's own
// tls=true/false handling covers it).
func LoadTLSConfig(sslMode, rootCertPath, certPath, keyPath string) (*tls.Config, error) {
	if rootCertPath == "" && certPath == "" && keyPath == "" {
		return nil, nil
	}

	cfg := &tls.Config{}

	if rootCertPath != "" {
		pem, err := os.ReadFile(rootCertPath)
		if err != nil {
			return nil, fmt.Errorf("reading ssl root cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("invalid ssl root cert at %s", rootCertPath)
		}
		cfg.RootCAs = pool
	}

	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("loading ssl client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if sslMode == "skip-verify" || sslMode == "insecure" {
		cfg.InsecureSkipVerify = true
	}

	return cfg, nil
}
