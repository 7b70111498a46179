package live

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pantrylabs/listsync/internal"
	"github.com/pantrylabs/listsync/session"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Broadcaster pushes one computed result to every connection currently
// associated with an entity.
type Broadcaster interface {
	Broadcast(ctx context.Context, entityType string, entityID int64, res *Result)
}

// FanOut resolves the entity's tokens in the capability store, finds each
// token's live connection in the registry and pushes the serialized result.
// Tokens whose connection no longer exists are pruned from the membership
// set. Everything here is best effort: a failed push loses one update for one
// viewer, it never fails the sender's request.
type FanOut struct {
	sessions *session.Store
	registry *Registry

	pushes prometheus.Counter
	pruned prometheus.Counter
}

func NewFanOut(sessions *session.Store, registry *Registry, enablePrometheus bool) *FanOut {
	f := &FanOut{
		sessions: sessions,
		registry: registry,
	}
	if enablePrometheus {
		f.pushes = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "listsync",
			Subsystem: "live",
			Name:      "num_broadcast_pushes",
			Help:      "Number of results pushed to connections",
		})
		f.pruned = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "listsync",
			Subsystem: "live",
			Name:      "num_pruned_tokens",
			Help:      "Number of stale tokens pruned during broadcast",
		})
		prometheus.MustRegister(f.pushes, f.pruned)
	}
	return f
}

func (f *FanOut) Broadcast(ctx context.Context, entityType string, entityID int64, res *Result) {
	tokens, err := f.sessions.Members(ctx, entityType, entityID)
	if err != nil {
		logger.Warn().Err(err).Int64("entity_id", entityID).Msg("broadcast: failed to resolve members")
		internal.GetSentryHubFromContextOrDefault(ctx).CaptureException(err)
		return
	}
	for _, token := range tokens {
		conn := f.registry.Conn(token)
		if conn == nil {
			// the token has no live connection here; retire it so future
			// broadcasts stop considering it
			logger.Warn().Str("token", token).Int64("entity_id", entityID).Msg("broadcast: no connection for token, pruning")
			if err := f.sessions.RemoveMember(ctx, entityType, entityID, token); err != nil {
				logger.Warn().Err(err).Str("token", token).Msg("broadcast: failed to prune stale token")
			}
			if f.pruned != nil {
				f.pruned.Inc()
			}
			continue
		}
		if err := conn.WriteResult(res); err != nil {
			logger.Warn().Err(err).Str("token", token).Msg("broadcast: push failed")
			continue
		}
		if f.pushes != nil {
			f.pushes.Inc()
		}
	}
}

// Close unregisters metrics. For tests.
func (f *FanOut) Close() {
	if f.pushes != nil {
		prometheus.Unregister(f.pushes)
		prometheus.Unregister(f.pruned)
	}
}
