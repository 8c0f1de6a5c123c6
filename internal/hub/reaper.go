package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"classpulse/internal/logging"
	"classpulse/internal/metrics"
	"classpulse/internal/presence"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// ReaperConfig holds the sweep cadence and staleness windows
type ReaperConfig struct {
	Interval  time.Duration
	OnlineTTL time.Duration
	TypingTTL time.Duration
}

// DefaultReaperConfig returns the 10s / 30s / 5s production values
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:  10 * time.Second,
		OnlineTTL: 30 * time.Second,
		TypingTTL: 5 * time.Second,
	}
}

// Reaper evicts stale presence on a fixed interval
// ARCHITECTURAL DISCOVERY: Backstop for peers that vanish without a close
// frame. It clears presence only and never touches the registry.
type Reaper struct {
	cfg         ReaperConfig
	presence    *presence.Store
	broadcaster interfaces.Broadcaster
	hooks       []func(now time.Time)
	logger      zerolog.Logger
}

// NewReaper creates a reaper; Serve runs it under a supervisor
func NewReaper(cfg ReaperConfig, store *presence.Store, broadcaster interfaces.Broadcaster) (*Reaper, error) {
	if cfg.Interval <= 0 || cfg.OnlineTTL <= 0 || cfg.TypingTTL <= 0 {
		return nil, ErrInvalidReapPeriod
	}
	return &Reaper{
		cfg:         cfg,
		presence:    store,
		broadcaster: broadcaster,
		logger:      logging.WithComponent("reaper"),
	}, nil
}

// OnSweep registers housekeeping that runs after every sweep
func (r *Reaper) OnSweep(hook func(now time.Time)) {
	r.hooks = append(r.hooks, hook)
}

// Serve ticks until ctx is cancelled
func (r *Reaper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("presence reaper started")

	for {
		select {
		case <-ticker.C:
			r.Sweep(r.presence.Now())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sweep runs both evictions once against now and returns how many entries
// each removed
func (r *Reaper) Sweep(now time.Time) (online, typing int) {
	for _, entry := range r.presence.ExpireOnline(now, r.cfg.OnlineTTL) {
		r.logger.Debug().
			Str("user_id", entry.UserID).
			Str("scope_type", string(entry.Scope.Type)).
			Str("scope_id", entry.Scope.ID).
			Msg("evicting stale presence")
		r.broadcaster.Broadcast(entry.Scope, types.NewUserStatusUpdate(entry.UserID, false, nil))
		online++
	}

	// FUNCTIONAL DISCOVERY: The sweep carries the recomputed typists list so
	// clients handle one TYPING_UPDATE shape regardless of its source
	for _, entry := range r.presence.ExpireTyping(now, r.cfg.TypingTTL) {
		r.broadcaster.Broadcast(entry.Scope, types.NewTypingUpdate(entry.UserID, false, r.presence.TypingIn(entry.Scope)))
		typing++
	}

	metrics.RecordEvictions(metrics.EvictionOnline, online)
	metrics.RecordEvictions(metrics.EvictionTyping, typing)

	for _, hook := range r.hooks {
		hook(now)
	}
	return online, typing
}

func (r *Reaper) String() string {
	return "presence-reaper"
}
