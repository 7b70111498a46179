package listsync

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/pantrylabs/listsync/live"
	"github.com/pantrylabs/listsync/pubsub"
	"github.com/pantrylabs/listsync/session"
	"github.com/pantrylabs/listsync/state"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

type Opts struct {
	BindAddr    string
	PostgresURI string
	RedisAddr   string
	Debug       bool
	SentryDSN   string
	// EnablePrometheus exposes /metrics and registers the engine's counters.
	EnablePrometheus bool
}

// App wires the engine together: durable storage, the capability store, the
// session registry, the live gateway and the REST surface that externals call.
type App struct {
	Storage  *state.Storage
	Sessions *session.Store
	Registry *live.Registry
	Live     *live.Handler
	Issuer   *session.Issuer

	authorizer Authorizer
	notifier   pubsub.Notifier
	opts       Opts
}

func Setup(opts Opts, authorizer Authorizer) *App {
	if opts.Debug {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if authorizer == nil {
		authorizer = AllowAll{}
	}

	storage := state.NewStorage(opts.PostgresURI)
	sessions := session.NewStore(opts.RedisAddr)
	registry := live.NewRegistry(live.DefaultConnTTL, opts.EnablePrometheus)
	liveHandler := live.NewHandler(sessions, storage, registry, opts.EnablePrometheus)

	ps := pubsub.NewPubSub(64)
	var notifier pubsub.Notifier = ps
	if opts.EnablePrometheus {
		notifier = pubsub.NewPromNotifier(ps, "updates")
	}
	liveHandler.Listen(ps)

	return &App{
		Storage:    storage,
		Sessions:   sessions,
		Registry:   registry,
		Live:       liveHandler,
		Issuer:     session.NewIssuer(sessions),
		authorizer: authorizer,
		notifier:   notifier,
		opts:       opts,
	}
}

// Router returns the HTTP surface: token issuance and bulk append for the
// REST side, the websocket route for live sync.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/lists/{id:[0-9]+}/session", a.RequestSession).Methods("GET")
	r.HandleFunc("/lists/append-items", a.AppendItems).Methods("POST")
	r.Handle(session.PurposeListSync, a.Live)
	if a.opts.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

type server struct {
	chain []func(next http.Handler) http.Handler
	final http.Handler
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h := s.final
	for i := range s.chain {
		h = s.chain[len(s.chain)-1-i](h)
	}
	h.ServeHTTP(w, req)
}

func allowCORS(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		if req.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		next.ServeHTTP(w, req)
	}
}

// RunServer is the main entry point to the engine.
func RunServer(opts Opts) {
	if opts.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN}); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialise sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	app := Setup(opts, nil)
	srv := &server{
		chain: []func(next http.Handler) http.Handler{
			hlog.NewHandler(logger),
			func(next http.Handler) http.Handler {
				return allowCORS(next)
			},
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				if r.URL.Path == "/metrics" {
					return
				}
				hlog.FromRequest(r).Info().
					Str("method", r.Method).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Str("path", r.URL.Path).
					Msg("")
			}),
			hlog.RemoteAddrHandler("ip"),
		},
		final: app.Router(),
	}

	httpSrv := &http.Server{Addr: opts.BindAddr, Handler: srv}
	go func() {
		logger.Info().Msgf("listening on %s", opts.BindAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sentry.CaptureException(err)
			logger.Fatal().Err(err).Msg("failed to listen and serve")
		}
	}()

	// Block until told to stop, then drain in-flight requests before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown did not complete cleanly")
	}
	app.Registry.Stop()
	app.Storage.Teardown()
}
