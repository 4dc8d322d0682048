package report

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalnine/matchbench/internal/result"
)

const namespace = "matchbench"

// WriteTextfile exports the sweep in the Prometheus text format, for pickup
// by the node_exporter textfile collector.
func WriteTextfile(path string, sweep *result.Sweep) error {
	reg := prometheus.NewRegistry()
	labels := []string{"algorithm", "ranks"}

	meanTime := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cell_mean_seconds",
		Help:      "Mean reported search time of a cell",
	}, labels)
	minTime := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cell_min_seconds",
		Help:      "Fastest reported search time of a cell",
	}, labels)
	maxTime := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cell_max_seconds",
		Help:      "Slowest reported search time of a cell",
	}, labels)
	matches := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cell_matches",
		Help:      "Match count reported by the first trial of a cell",
	}, labels)
	speedup := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "speedup_ratio",
		Help:      "Single-rank mean time divided by cell mean time",
	}, labels)
	efficiency := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "efficiency_percent",
		Help:      "Speedup divided by rank count, as a percentage",
	}, labels)
	skipped := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "algorithm_skipped",
		Help:      "1 if the algorithm executable was missing",
	}, []string{"algorithm"})
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sweep_finished_timestamp_seconds",
		Help:      "Unix time the sweep finished",
	})

	for _, c := range []prometheus.Collector{meanTime, minTime, maxTime, matches, speedup, efficiency, skipped, finished} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering collector: %w", err)
		}
	}

	for _, c := range sweep.Cells {
		r := strconv.Itoa(c.Ranks)
		meanTime.WithLabelValues(c.Algorithm, r).Set(c.MeanTime)
		minTime.WithLabelValues(c.Algorithm, r).Set(c.MinTime)
		maxTime.WithLabelValues(c.Algorithm, r).Set(c.MaxTime)
		matches.WithLabelValues(c.Algorithm, r).Set(float64(c.Matches))
	}
	for _, d := range sweep.Derived {
		r := strconv.Itoa(d.Ranks)
		speedup.WithLabelValues(d.Algorithm, r).Set(d.Speedup)
		efficiency.WithLabelValues(d.Algorithm, r).Set(d.Efficiency)
	}
	for _, name := range sweep.Skipped {
		skipped.WithLabelValues(name).Set(1)
	}
	if !sweep.FinishedAt.IsZero() {
		finished.Set(float64(sweep.FinishedAt.Unix()))
	}

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("writing textfile %s: %w", path, err)
	}
	return nil
}
