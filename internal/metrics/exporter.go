// Package metrics implements the Prometheus exporter (SPEC_FULL.md §2 item
// 17): per-BP finding severity, validation duration, and last-check gauges,
// copied from a fleet.Coordinator's current status snapshot each time
// Update runs (the caller runs it on a ticker, not per scrape).
// Grounded on leccaventures-pwt/internal/metrics/exporter.go's
// GaugeVec-per-dimension registration shape, retargeted from validator
// uptime/missed-block gauges to BP finding-severity gauges, and from the
// teacher's node-health gauges (nodeUp/nodeHeight/nodeSyncing) to per-class
// severity gauges read from fleet.Status instead of rpc.Node.GetStatus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/poplexity/bpvalidate/internal/fleet"
	"github.com/poplexity/bpvalidate/internal/findings"
)

// severityValue mirrors findings.Kind's ascending order as a float, so it
// can be set as a gauge value (Prometheus gauges are numeric only).
var severityValue = map[findings.Kind]float64{
	findings.OK:   0,
	findings.Info: 1,
	findings.Warn: 2,
	findings.Err:  3,
	findings.Crit: 4,
	findings.Skip: 5,
}

// Exporter pulls the current fleet status on every Update and republishes
// it as Prometheus gauges.
type Exporter struct {
	coordinator *fleet.Coordinator
	prefix      string

	classSeverity *prometheus.GaugeVec
	worstSeverity *prometheus.GaugeVec
	duration      *prometheus.GaugeVec
	lastCheck     *prometheus.GaugeVec
	probeErr      *prometheus.GaugeVec
}

// NewExporter builds and registers the exporter's gauges. prefix is the
// config-supplied metrics prefix (config.AdvancedConfig.Prometheus.MetricsPrefix).
func NewExporter(coordinator *fleet.Coordinator, prefix string) *Exporter {
	if prefix == "" {
		prefix = "bpvalidate"
	}

	e := &Exporter{
		coordinator: coordinator,
		prefix:      prefix,
		classSeverity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_bp_class_severity",
			Help: "Per-class finding severity for the last validation run (0=ok .. 5=skip)",
		}, []string{"owner", "class"}),
		worstSeverity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_bp_worst_severity",
			Help: "Worst finding severity across all classes for the last validation run",
		}, []string{"owner"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_bp_validation_duration_seconds",
			Help: "Wall time the last validation run took for this BP",
		}, []string{"owner"}),
		lastCheck: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_bp_last_check_timestamp",
			Help: "Unix timestamp of the last completed validation run for this BP",
		}, []string{"owner"}),
		probeErr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_bp_roster_error",
			Help: "1 if the last fleet pass could not even start a validation for this BP (bad roster entry), else 0",
		}, []string{"owner"}),
	}

	prometheus.MustRegister(e.classSeverity)
	prometheus.MustRegister(e.worstSeverity)
	prometheus.MustRegister(e.duration)
	prometheus.MustRegister(e.lastCheck)
	prometheus.MustRegister(e.probeErr)

	return e
}

// Update re-reads the coordinator's current status snapshot and sets every
// gauge from it. Called on a timer by cmd/bpvalidate, same "pull, don't
// push" shape as the teacher's Exporter.Update.
func (e *Exporter) Update() {
	for _, status := range e.coordinator.Statuses() {
		owner := status.Owner()

		if err := status.Err(); err != nil {
			e.probeErr.With(prometheus.Labels{"owner": owner}).Set(1)
			continue
		}
		e.probeErr.With(prometheus.Labels{"owner": owner}).Set(0)

		report, done := status.Report()
		if !done {
			continue
		}

		for class, kind := range report.MessageSummary {
			e.classSeverity.With(prometheus.Labels{"owner": owner, "class": string(class)}).Set(severityValue[kind])
		}
		e.worstSeverity.With(prometheus.Labels{"owner": owner}).Set(severityValue[fleet.WorstKind(report)])
		e.duration.With(prometheus.Labels{"owner": owner}).Set(report.ElapsedTime)

		lastCheck := status.LastCheck()
		if !lastCheck.IsZero() {
			e.lastCheck.With(prometheus.Labels{"owner": owner}).Set(float64(lastCheck.Unix()))
		}
	}
}
