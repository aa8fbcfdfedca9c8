package store

import (
	"context"
	"errors"

	"github.com/nadezhda-zhivchikova/erika-advent/internal/domain"
)

// ErrNotFound is returned by GetPlan when a chat has no stored plan.
var ErrNotFound = errors.New("plan not found")

// Repo defines storage operations for delivery plans. The store is the sole
// source of truth for plan state: timers are re-derived from it after a
// restart, never the other way around.
type Repo interface {
	// UpsertPlan writes the full record, last write wins.
	UpsertPlan(ctx context.Context, p *domain.Plan) error
	GetPlan(ctx context.Context, chatID int64) (*domain.Plan, error)
	LoadAll(ctx context.Context) ([]domain.Plan, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}
