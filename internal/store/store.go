package store

import (
	"context"
	"time"

	"github.com/nhle/tasktalk/internal/model"
)

// TurnFilter controls filtering and pagination for journal queries.
type TurnFilter struct {
	Intent     *string
	FailedOnly bool
	Since      *time.Time
	Limit      int
}

// Store defines the persistence interface for the turn journal.
type Store interface {
	RecordTurn(ctx context.Context, turn model.Turn) error
	GetTurns(ctx context.Context, filter TurnFilter) ([]model.Turn, error)
	CountTurns(ctx context.Context, filter TurnFilter) (int, error)
	PruneTurns(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
