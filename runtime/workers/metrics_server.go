package workers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServerWorker serves the Prometheus scrape endpoint on a side
// goroutine. It has no access to relay state.
type MetricsServerWorker struct {
	log      *slog.Logger
	addr     string
	gatherer prometheus.Gatherer
}

func NewMetricsServerWorker(log *slog.Logger, port int, gatherer prometheus.Gatherer) *MetricsServerWorker {
	return &MetricsServerWorker{
		log:      log,
		addr:     fmt.Sprintf(":%d", port),
		gatherer: gatherer,
	}
}

func (w *MetricsServerWorker) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(w.gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: w.addr, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Metrics endpoint listening", "addr", w.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
