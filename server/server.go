package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/backoff"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/clock"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/config"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/ledger"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/oracle"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/session"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/settlement"
)

// ParticipantHeader carries the caller's identity; authentication happens upstream.
const ParticipantHeader = "X-Participant-Id"

// BalanceReader is implemented by wallets that can report a balance.
type BalanceReader interface {
	Balance(ctx context.Context, participantID string) (int64, error)
}

type Deps struct {
	Config   *config.Config
	Clock    *clock.Clock
	Games    *games.Registry
	Oracle   *oracle.Oracle
	Ledger   *ledger.Ledger
	Engine   *settlement.Engine
	Balances BalanceReader
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
	Now      func() time.Time
}

type Server struct {
	cfg      *config.Config
	clock    *clock.Clock
	games    *games.Registry
	oracle   *oracle.Oracle
	ledger   *ledger.Ledger
	engine   *settlement.Engine
	balances BalanceReader
	gatherer prometheus.Gatherer
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*backoff.Controller
}

func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      d.Config,
		clock:    d.Clock,
		games:    d.Games,
		oracle:   d.Oracle,
		ledger:   d.Ledger,
		engine:   d.Engine,
		balances: d.Balances,
		gatherer: d.Gatherer,
		log:      d.Log,
		now:      d.Now,
		limiters: make(map[string]*backoff.Controller),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/rgs", func(r chi.Router) {
		r.Get("/balance", s.getBalance)
		r.Get("/games", s.listGames)
		r.Route("/games/{game}", func(r chi.Router) {
			r.Get("/clock", s.getClock)
			r.Get("/results", s.listResults)
			r.Get("/rounds/{round}/result", s.getResult)
			r.Get("/rounds/{round}/wagers", s.listWagers)
			r.Post("/rounds/{round}/settle", s.settle)
			r.Post("/wagers", s.placeWager)
			r.Get("/live", s.live)
		})
	})
	return r
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := ":" + strconv.Itoa(s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("RGS listening", "addr", addr, "store", s.cfg.Store.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) cors(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if allowed := s.cfg.Server.AllowedOrigins; len(allowed) > 0 {
			origin = ""
			if o := r.Header.Get("Origin"); slices.Contains(allowed, o) {
				origin = o
			}
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ParticipantHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// requestLogger logs method, path and status for each request (no body or secrets).
func (s *Server) requestLogger(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h.ServeHTTP(ww, r)
		s.log.Debug("RGS request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// limiter returns the participant's backoff controller for settlement calls.
func (s *Server) limiter(participantID string) *backoff.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.limiters[participantID]
	if !ok {
		c = backoff.New(s.cfg.BackoffBase(), s.cfg.BackoffMax()).WithClock(s.now)
		s.limiters[participantID] = c
	}
	return c
}

func (s *Server) newSession(gameID, participantID, name string) (*session.Session, error) {
	return session.New(session.Config{
		GameID:        gameID,
		ParticipantID: participantID,
		Name:          name,
		TickEvery:     s.cfg.Tick(),
		BackoffBase:   s.cfg.BackoffBase(),
		BackoffMax:    s.cfg.BackoffMax(),
		PageSize:      s.cfg.Viewer.PageSize,
		Poll:          s.cfg.ViewerPoll(),
	}, session.Deps{
		Clock:  s.clock,
		Oracle: s.oracle,
		Ledger: s.ledger,
		Engine: s.engine,
		Log:    s.log,
		Now:    s.now,
	})
}
