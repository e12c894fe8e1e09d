// Package db
package db

import (
	"context"
	"database/sql"

	"github.com/soyjavierquiroz/sentinel/internal/journal"
	"github.com/soyjavierquiroz/sentinel/internal/position"
	"github.com/soyjavierquiroz/sentinel/internal/tick"
)

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	// RunInTransaction executes fn as a single atomic unit. All storage
	// calls made with the context passed to fn join the same transaction.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	tick.Store
	position.Repository
	journal.Journaler
}
