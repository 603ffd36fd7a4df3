// Package channel maintains the registry mapping channel names to topics.
//
// Channel names are normalized before storage, so the registry only ever
// holds topic-shaped identifiers; creation is idempotent and persisted to
// the configuration file so the channel list survives restarts.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/luna-chat/luna/internal/topic"
)

// Ensurer creates topic collections. *topic.Store satisfies this.
type Ensurer interface {
	Ensure(ctx context.Context, t topic.ID) error
}

// Persister writes the channel list to durable configuration.
// *config.Config satisfies this.
type Persister interface {
	SaveChannels(channels []string) error
}

// Registry is the channel registry. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	channels []string
	index    map[string]bool

	store     Ensurer
	persister Persister
	logger    *slog.Logger
}

// NewRegistry creates a Registry seeded with the configured channels.
// Seed names are normalized; duplicates after normalization collapse to
// one entry.
func NewRegistry(seed []string, store Ensurer, persister Persister, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		index:     make(map[string]bool),
		store:     store,
		persister: persister,
		logger:    logger,
	}
	for _, name := range seed {
		normalized := topic.Normalize(name).String()
		if normalized == "" || r.index[normalized] {
			continue
		}
		r.channels = append(r.channels, normalized)
		r.index[normalized] = true
	}
	return r
}

// List returns the channel names in registration order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.channels))
	copy(out, r.channels)
	return out
}

// Exists reports whether the normalized form of name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index[topic.Normalize(name).String()]
}

// Create registers a channel under its normalized name, persists the
// updated list, and ensures the backing topic collection. Idempotent:
// creating an existing channel is a no-op returning the normalized name.
func (r *Registry) Create(ctx context.Context, name string) (string, error) {
	normalized := topic.Normalize(name).String()
	if normalized == "" {
		return "", fmt.Errorf("channel name %q normalizes to empty", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index[normalized] {
		return normalized, nil
	}

	if err := r.store.Ensure(ctx, topic.ID(normalized)); err != nil {
		return "", fmt.Errorf("binding topic store for %q: %w", normalized, err)
	}

	r.channels = append(r.channels, normalized)
	r.index[normalized] = true

	if r.persister != nil {
		if err := r.persister.SaveChannels(r.channels); err != nil {
			// The channel stays registered in-process; persistence is
			// retried on the next successful Create.
			r.logger.Warn("failed to persist channel list", "error", err)
		}
	}

	r.logger.Info("channel created", "channel", normalized)
	return normalized, nil
}
