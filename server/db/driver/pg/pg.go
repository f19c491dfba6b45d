// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package pg is a PostgreSQL db.Archivist.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/morphaNFT/marker-maker/dex"
	"github.com/morphaNFT/marker-maker/server/db"
)

// Driver implements db.Driver.
type Driver struct{}

// Open creates the DB backend, returning a db.Archivist.
func (d *Driver) Open(ctx context.Context, cfg any) (db.Archivist, error) {
	switch c := cfg.(type) {
	case *Config:
		return NewArchiver(ctx, c)
	case Config:
		return NewArchiver(ctx, &c)
	default:
		return nil, fmt.Errorf("invalid config type %T", cfg)
	}
}

// UseLogger sets the package-wide logger for the registered DB Driver.
func (*Driver) UseLogger(logger dex.Logger) {
	UseLogger(logger)
}

func init() {
	db.Register("pg", &Driver{})
}

const (
	defaultQueryTimeout = 2 * time.Minute
)

// Config holds the Archiver's configuration.
type Config struct {
	Host, Port, User, Pass, DBName string
	HidePGConfig                   bool
	QueryTimeout                   time.Duration
}

// Archiver is a PostgreSQL db.Archivist.
type Archiver struct {
	ctx          context.Context
	queryTimeout time.Duration
	db           *sql.DB
	dbName       string
}

var _ db.Archivist = (*Archiver)(nil)

// NewArchiver constructs a new Archiver. Use Close when done with the Archiver.
func NewArchiver(ctx context.Context, cfg *Config) (*Archiver, error) {
	// Connect to the PostgreSQL daemon and return the *sql.DB.
	sqlDB, err := connect(ctx, cfg.Host, cfg.Port, cfg.User, cfg.Pass, cfg.DBName)
	if err != nil {
		return nil, err
	}

	archiver := &Archiver{
		ctx:          ctx,
		db:           sqlDB,
		dbName:       cfg.DBName,
		queryTimeout: cfg.QueryTimeout,
	}
	if archiver.queryTimeout <= 0 {
		archiver.queryTimeout = defaultQueryTimeout
	}

	if err = archiver.prepare(cfg.HidePGConfig); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return archiver, nil
}

func (a *Archiver) prepare(hidePGConfig bool) error {
	// Put the PostgreSQL time zone in UTC.
	initTZ, err := checkCurrentTimeZone(a.db)
	if err != nil {
		return err
	}
	if initTZ != "UTC" {
		log.Infof("Switching PostgreSQL time zone to UTC for this session.")
		if _, err = a.db.Exec(`SET TIME ZONE UTC`); err != nil {
			return fmt.Errorf("failed to set time zone to UTC: %w", err)
		}
	}

	// Display the postgres version.
	pgVersion, err := retrievePGVersion(a.db)
	if err != nil {
		return err
	}
	log.Info(pgVersion)

	if err = a.checkDurability(hidePGConfig); err != nil {
		return err
	}

	return PrepareTables(a.db)
}

// Close closes the underlying DB connection.
func (a *Archiver) Close() error {
	return a.db.Close()
}
