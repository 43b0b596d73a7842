// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/vidsync-labs/internal/domain"
)

// ErrNotFound is returned when a record that must exist does not.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting users, reflections and
// interaction snapshots.
type Repository interface {
	// GetUser retrieves a user by their user ID. A missing user is (nil, nil).
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// SaveReflection inserts a reflection.
	SaveReflection(ctx context.Context, r *domain.Reflection) error

	// GetReflection retrieves a reflection by id, or ErrNotFound.
	GetReflection(ctx context.Context, id string) (*domain.Reflection, error)

	// ListReflections returns a user's reflections, newest first. An empty
	// videoID lists all videos.
	ListReflections(ctx context.Context, userID, videoID string, limit int) ([]*domain.Reflection, error)

	// GetInteraction retrieves the latest snapshot of a tab session. A
	// missing snapshot is (nil, nil).
	GetInteraction(ctx context.Context, userID, sessionID string) (*domain.InteractionSnapshot, error)

	// UpsertInteraction stores the latest snapshot of a tab session.
	UpsertInteraction(ctx context.Context, snap *domain.InteractionSnapshot) error

	// DeleteInteraction removes a tab session snapshot.
	DeleteInteraction(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredInteractions removes snapshots not updated within ttl.
	CleanupExpiredInteractions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
