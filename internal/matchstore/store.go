// Package matchstore is the boundary to the shared document database that
// holds match state. The coordinator only ever talks to the Store interface;
// the Redis implementation below provides document reads and writes,
// field-level updates with set-algebra sentinels, and snapshot subscriptions.
package matchstore

import (
	"context"
	"errors"

	"github.com/gproductions/cardsagainst/internal/matchdoc"
)

var (
	ErrNotFound = errors.New("match not found")
	ErrExists   = errors.New("match already exists")
	ErrConflict = errors.New("concurrent match update conflict")
)

// Fields is a partial field map for Update. Keys address top-level document
// fields or per-player sub-keys ("playersChoices.<uid>"). Values are either
// plain replacements or the Union/Remove sentinels.
type Fields map[string]any

type unionOp struct{ vals []string }
type removeOp struct{ vals []string }

// Union is the atomic idempotent set-append sentinel. Concurrent unions of
// different clients commute and never duplicate an element.
func Union(vals ...string) any { return unionOp{vals: vals} }

// Remove is the atomic set-removal sentinel.
func Remove(vals ...string) any { return removeOp{vals: vals} }

// Listener receives pushed document snapshots. Snapshots may arrive stale or
// duplicated; deletion of the document is reported once through OnDeleted.
// Nil callbacks are skipped.
type Listener struct {
	OnSnapshot func(*matchdoc.Match)
	OnDeleted  func()
	OnError    func(error)
}

// Subscription is a live snapshot feed for one match document.
type Subscription interface {
	Close() error
}

// Store is the match document store client.
type Store interface {
	// Create writes a new document, failing with ErrExists if the name is taken.
	Create(ctx context.Context, m *matchdoc.Match) error
	// Get returns the current document or ErrNotFound.
	Get(ctx context.Context, name string) (*matchdoc.Match, error)
	// Set overwrites the whole document. Reserved for the single writer of a
	// phase transition; everyone else uses Update.
	Set(ctx context.Context, m *matchdoc.Match) error
	// Update applies a partial field map atomically.
	Update(ctx context.Context, name string, fields Fields) error
	// Delete removes the document and notifies subscribers.
	Delete(ctx context.Context, name string) error
	// Subscribe starts a snapshot feed. The current document is delivered
	// first; a missing document is reported as deleted.
	Subscribe(ctx context.Context, name string, l Listener) (Subscription, error)
	// QueryJoinable lists inactive matches of one language.
	QueryJoinable(ctx context.Context, language string) ([]*matchdoc.Match, error)
}
