package live

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultConnTTL is how long an idle connection stays registered. Lookups
// refresh the TTL, so any broadcast or inbound message keeps a connection
// alive; the TTL only reaps connections that went silent without a close
// frame ever reaching us.
const DefaultConnTTL = 30 * time.Minute

// Registry is the in-process session registry: live connections keyed by the
// capability token they connected with. Private to one server instance.
type Registry struct {
	cache     *ttlcache.Cache[string, *Conn]
	liveConns prometheus.Gauge
}

func NewRegistry(connTTL time.Duration, enablePrometheus bool) *Registry {
	r := &Registry{
		cache: ttlcache.New[string, *Conn](
			ttlcache.WithTTL[string, *Conn](connTTL),
		),
	}
	r.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Conn]) {
		item.Value().Close()
		r.updateGauge()
	})
	if enablePrometheus {
		r.liveConns = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "listsync",
			Subsystem: "live",
			Name:      "num_connections",
			Help:      "Number of live websocket connections",
		})
		prometheus.MustRegister(r.liveConns)
	}
	go r.cache.Start()
	return r
}

// Register associates the token with the connection. If the token already has
// a connection (a reconnect racing its own teardown) the old one is closed.
func (r *Registry) Register(token string, conn *Conn) {
	if existing := r.cache.Get(token); existing != nil {
		existing.Value().Close()
	}
	r.cache.Set(token, conn, ttlcache.DefaultTTL)
	r.updateGauge()
}

// Conn returns the live connection for this token, or nil if there is none.
func (r *Registry) Conn(token string) *Conn {
	item := r.cache.Get(token)
	if item == nil {
		return nil
	}
	return item.Value()
}

// Unregister removes the token's connection, closing it via the eviction
// callback. Unregistering an unknown token is a no-op.
func (r *Registry) Unregister(token string) {
	r.cache.Delete(token)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return r.cache.Len()
}

func (r *Registry) updateGauge() {
	if r.liveConns != nil {
		r.liveConns.Set(float64(r.cache.Len()))
	}
}

// Stop halts TTL processing and unregisters metrics. For tests; a registry
// normally lives as long as the process.
func (r *Registry) Stop() {
	r.cache.Stop()
	if r.liveConns != nil {
		prometheus.Unregister(r.liveConns)
	}
}
