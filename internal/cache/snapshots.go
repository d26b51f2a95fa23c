package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/npratt/tether/internal/api"
	"github.com/npratt/tether/internal/clock"
)

// Snapshots serves GetSession through a TTL cache.
type Snapshots struct {
	client api.SessionAPI
	cache  *TTL[string, *api.Snapshot]
	logger *slog.Logger
}

// NewSnapshots wraps client with a cache of the given TTL.
func NewSnapshots(client api.SessionAPI, ttl time.Duration, clk clock.Clock, logger *slog.Logger) *Snapshots {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshots{
		client: client,
		cache:  NewTTL[string, *api.Snapshot](ttl, clk),
		logger: logger.With("component", "cache"),
	}
}

// Get returns the cached snapshot for sessionID or fetches it. Callers must
// not modify the returned snapshot.
func (s *Snapshots) Get(ctx context.Context, sessionID string) (*api.Snapshot, error) {
	if snap, ok := s.cache.Get(sessionID); ok {
		s.logger.Debug("snapshot cache hit", "session_id", sessionID)
		return snap, nil
	}

	snap, err := s.client.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(sessionID, snap)
	return snap, nil
}

// Invalidate drops the snapshot for id. Controllers call it when an
// execution ends so the next load sees the final history.
func (s *Snapshots) Invalidate(id string) {
	s.logger.Debug("snapshot invalidated", "session_id", id)
	s.cache.Invalidate(id)
}

// StartCleanup starts the background expiry loop.
func (s *Snapshots) StartCleanup() {
	s.cache.StartCleanup(0)
}

// Close stops the background expiry loop.
func (s *Snapshots) Close() {
	s.cache.Close()
}
