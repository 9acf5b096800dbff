package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry holds the Prometheus metrics for the monitor.
type Registry struct {
	registry *prometheus.Registry

	RefreshTotal      *prometheus.CounterVec
	StatusGauge       *prometheus.GaugeVec
	StatusTransitions *prometheus.CounterVec
	OracleFailures    *prometheus.CounterVec
	RewardsClaimed    *prometheus.CounterVec
	TickDuration      prometheus.Histogram
}

// NewRegistry creates and registers all monitor metrics.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collateralwatch_refresh_total",
				Help: "Refresh cycles per asset and result",
			},
			[]string{"symbol", "result"},
		),

		StatusGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "collateralwatch_collateral_status",
				Help: "Current collateral status (0=SOUND, 1=IFFY, 2=DISABLED)",
			},
			[]string{"symbol"},
		),

		StatusTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collateralwatch_status_transitions_total",
				Help: "Collateral status transitions taken",
			},
			[]string{"symbol", "from", "to"},
		),

		OracleFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collateralwatch_oracle_failures_total",
				Help: "Strict price path failures per asset",
			},
			[]string{"symbol"},
		),

		RewardsClaimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collateralwatch_rewards_claimed_total",
				Help: "RewardsClaimed emissions per asset and reward token",
			},
			[]string{"symbol", "token"},
		),

		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collateralwatch_tick_duration_seconds",
				Help:    "Duration of a full refresh tick",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
	}

	r.registry.MustRegister(
		r.RefreshTotal,
		r.StatusGauge,
		r.StatusTransitions,
		r.OracleFailures,
		r.RewardsClaimed,
		r.TickDuration,
	)

	return r
}

// Server exposes /metrics and /health over HTTP.
type Server struct {
	addr   string
	logger zerolog.Logger
	srv    *http.Server
}

// NewServer builds the metrics HTTP server.
func NewServer(addr string, registry *Registry, logger zerolog.Logger) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry.registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return &Server{
		addr:   addr,
		logger: logger.With().Str("component", "metrics_server").Logger(),
		srv: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("metrics endpoint listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
