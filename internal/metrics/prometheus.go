package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundingarb/logger"
)

var (
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fundingarb_cycles_total",
		Help: "Polling cycles by outcome",
	}, []string{"outcome"})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundingarb_cycle_duration_seconds",
		Help:    "Wall time of a polling cycle",
		Buckets: prometheus.DefBuckets,
	})

	CandidatesRanked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fundingarb_candidates_ranked",
		Help: "Complete candidates in the latest ranking",
	})

	BestAPR = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fundingarb_best_resulting_apr",
		Help: "Resulting APR of the top ranked candidate",
	})

	QuotesCollected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fundingarb_quotes_collected",
		Help: "Funding quotes collected per venue in the latest cycle",
	}, []string{"venue"})

	VenueErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fundingarb_venue_errors_total",
		Help: "Venue call failures by venue and operation",
	}, []string{"venue", "operation"})

	DispatcherQueued = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fundingarb_dispatcher_queued",
		Help: "Callers waiting for dispatcher admission",
	}, []string{"venue"})

	DispatcherInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fundingarb_dispatcher_in_flight",
		Help: "Tasks currently running through the dispatcher",
	}, []string{"venue"})

	OrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fundingarb_orders_total",
		Help: "Orders by venue, side and outcome",
	}, []string{"venue", "side", "outcome"})
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleDuration,
		CandidatesRanked,
		BestAPR,
		QuotesCollected,
		VenueErrors,
		DispatcherQueued,
		DispatcherInFlight,
		OrdersTotal,
	)
}

// ObserveDispatcher records dispatcher occupancy.
func ObserveDispatcher(venue string, queued, inFlight int) {
	DispatcherQueued.WithLabelValues(venue).Set(float64(queued))
	DispatcherInFlight.WithLabelValues(venue).Set(float64(inFlight))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Serve exposes /metrics and /healthz on addr until ctx ends. An empty addr
// disables the listener.
func Serve(ctx context.Context, addr string) error {
	log := logger.GetLogger().WithComponent("prometheus")
	if addr == "" {
		log.Debug("prometheus listener disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("metrics server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
