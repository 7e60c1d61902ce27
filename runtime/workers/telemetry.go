package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"udprelay/observability"
)

// TelemetryWorker publishes process self-stats (RSS, CPU) to the metrics
// registry on a fixed interval. It never touches relay state; the relay's
// own gauges are updated by the event loop.
type TelemetryWorker struct {
	log      *slog.Logger
	interval time.Duration
	metrics  *observability.Metrics
}

func NewTelemetryWorker(log *slog.Logger, interval time.Duration, metrics *observability.Metrics) *TelemetryWorker {
	return &TelemetryWorker{log: log, interval: interval, metrics: metrics}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting telemetry worker", "interval", w.interval)

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Warn("Failed to collect self stats", "error", err)
				continue
			}
			w.metrics.ProcessRSSBytes.Set(float64(rss))
			w.metrics.ProcessCPUPercent.Set(cpu)
			w.log.Debug("Telemetry published", "rss_bytes", rss, "cpu_percent", cpu)
		}
	}
}

// selfStats retrieves memory and CPU usage for the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
