package live

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/pantrylabs/listsync/internal"
	"github.com/pantrylabs/listsync/pubsub"
	"github.com/pantrylabs/listsync/session"
	"github.com/pantrylabs/listsync/state"
)

// Handler is the connection gateway. It authenticates inbound websocket
// connections against the capability store, registers them, routes their
// messages through the dispatcher and fans results out to every connection
// sharing the list.
type Handler struct {
	Sessions   *session.Store
	Storage    *state.Storage
	Registry   *Registry
	Dispatcher *Dispatcher
	Broadcast  Broadcaster

	fanout   *FanOut
	upgrader websocket.Upgrader
	pool     *internal.WorkerPool
}

func NewHandler(sessions *session.Store, storage *state.Storage, registry *Registry, enablePrometheus bool) *Handler {
	fanout := NewFanOut(sessions, registry, enablePrometheus)
	h := &Handler{
		Sessions:   sessions,
		Storage:    storage,
		Registry:   registry,
		Dispatcher: NewDispatcher(storage),
		Broadcast:  fanout,
		fanout:     fanout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// cross-origin browsers are fine: auth is the capability token,
			// not a cookie
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pool: internal.NewWorkerPool(16),
	}
	h.pool.Start()
	return h
}

// Listen starts delivering out-of-band list updates (e.g. REST bulk appends)
// from the given pubsub listener to this gateway's connections.
func (h *Handler) Listen(listener pubsub.Listener) {
	go func() {
		err := listener.Listen(pubsub.ChanUpdates, func(p pubsub.Payload) {
			pubsub.Dispatch(h, p)
		})
		if err != nil {
			logger.Err(err).Msg("update listener terminated")
		}
	}()
}

// OnListUpdate implements pubsub.ListUpdateListener. Fan-out runs on the
// worker pool so a burst of updates doesn't spawn unbounded goroutines.
func (h *Handler) OnListUpdate(p *pubsub.ListUpdate) {
	update := &Result{
		RespondingToAction: Action(p.Action),
		Items:              p.Items,
	}
	listID := p.ListID
	h.pool.Queue(func() {
		h.Broadcast.Broadcast(context.Background(), session.EntityTypeList, listID, update)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log := hlog.FromRequest(req)
	token := req.URL.Query().Get("token")
	if token == "" {
		unauthorized(w, "missing token")
		return
	}
	payload, err := h.Sessions.Get(req.Context(), token)
	if err != nil {
		// unknown token and capability store outage both fail closed
		if err != session.ErrTokenNotFound {
			log.Err(err).Msg("capability store lookup failed")
			internal.GetSentryHubFromContextOrDefault(req.Context()).CaptureException(err)
		}
		unauthorized(w, "unknown token")
		return
	}
	if payload.Purpose != session.PurposeListSync {
		// a token minted for another feature must not open this stream
		log.Warn().Str("purpose", payload.Purpose).Msg("token purpose mismatch")
		unauthorized(w, "token not valid for this route")
		return
	}

	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already written an error response
		log.Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConn(token, ws)
	h.Registry.Register(token, conn)
	if err := h.Sessions.RefreshTTL(req.Context(), token); err != nil {
		log.Warn().Err(err).Msg("failed to refresh token TTL")
	}
	log.Info().Int64("list_id", payload.EntityID).Msg("websocket connected")

	defer h.teardown(token, payload, log)
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		if !h.handleMessage(conn, payload, data) {
			return
		}
	}
}

// handleMessage processes one inbound frame. Returns false when the
// connection should be closed.
func (h *Handler) handleMessage(conn *Conn, payload session.Payload, data []byte) bool {
	msg, herr := ParseMessage(data)
	if herr != nil {
		// a client sending garbage is assumed broken: error, then hang up
		if err := conn.WriteError(herr.Err.Error()); err != nil {
			logger.Warn().Err(err).Msg("failed to send validation error")
		}
		return false
	}

	ctx := context.Background()
	res, herr := h.Dispatcher.Dispatch(payload.EntityID, msg)
	if herr != nil {
		if herr.StatusCode >= 500 {
			internal.GetSentryHubFromContextOrDefault(ctx).CaptureException(herr)
		}
		// handler errors go to the sender only, the connection stays open
		if err := conn.WriteError(herr.Err.Error()); err != nil {
			logger.Warn().Err(err).Msg("failed to send handler error")
		}
		return true
	}

	if msg.Action == ActionPing {
		// the probe echoes to the sender only: broadcasting an empty
		// snapshot would wipe every peer's view
		if err := conn.WriteResult(res); err != nil {
			logger.Warn().Err(err).Msg("failed to echo probe")
		}
		return true
	}

	h.Broadcast.Broadcast(ctx, payload.EntityType, payload.EntityID, res)
	return true
}

// teardown retires the token and unregisters the connection, whether the
// client closed cleanly, the network died or processing errored.
func (h *Handler) teardown(token string, payload session.Payload, log *zerolog.Logger) {
	ctx := context.Background()
	if err := h.Sessions.RemoveMember(ctx, payload.EntityType, payload.EntityID, token); err != nil {
		logger.Warn().Err(err).Str("token", token).Msg("failed to remove membership on disconnect")
	}
	if err := h.Sessions.Delete(ctx, token); err != nil {
		logger.Warn().Err(err).Str("token", token).Msg("failed to delete token on disconnect")
	}
	h.Registry.Unregister(token)
	log.Info().Int64("list_id", payload.EntityID).Msg("websocket disconnected")
}

func unauthorized(w http.ResponseWriter, msg string) {
	herr := &internal.HandlerError{
		StatusCode: http.StatusUnauthorized,
		Err:        errors.New(msg),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.StatusCode)
	w.Write(herr.JSON())
}
