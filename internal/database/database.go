package database

import (
	"fmt"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/peerex/peerex-core/internal/database/migrations"
)

// NewDatabase opens the SQLite database at path and runs migrations.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

var testDBSeq int64

// NewTestDatabase opens a private in-memory database, for tests. Each call
// gets its own database; cache=shared keeps it alive across the pooled
// connections of one handle.
func NewTestDatabase() (*gorm.DB, error) {
	name := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	return NewDatabase(name)
}

// Migrate applies the schema to an already-open handle.
func Migrate(db *gorm.DB) error {
	if err := migrations.AddBalanceLedger(db); err != nil {
		return err
	}
	if err := migrations.AddOrdersAndTrades(db); err != nil {
		return err
	}
	return nil
}
