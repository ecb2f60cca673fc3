// Package metrics holds the Prometheus collectors for one pipeline run.
//
// A batch job has no scrape endpoint, so collectors live on a private
// registry that is written to a node-exporter textfile when the run ends.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job collects the metrics of one run.
type Job struct {
	registry *prometheus.Registry

	RecordsRead    *prometheus.CounterVec
	FieldsNulled   *prometheus.CounterVec
	EventsFiltered prometheus.Counter
	Unmatched      prometheus.Gauge
	RowsWritten    *prometheus.GaugeVec
	FilesWritten   *prometheus.GaugeVec
	StageDuration  *prometheus.GaugeVec
	LastSuccess    prometheus.Gauge
	RunDuration    prometheus.Gauge
}

// NewJob creates collectors labelled with the job name.
func NewJob(job string) *Job {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	constLabels := prometheus.Labels{"job": job}

	return &Job{
		registry: reg,
		RecordsRead: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "songlake_records_read_total",
			Help:        "Input records parsed, by source",
			ConstLabels: constLabels,
		}, []string{"source"}),
		FieldsNulled: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "songlake_fields_nulled_total",
			Help:        "Field values read as null because their type did not match the schema",
			ConstLabels: constLabels,
		}, []string{"source", "field"}),
		EventsFiltered: f.NewCounter(prometheus.CounterOpts{
			Name:        "songlake_events_filtered_total",
			Help:        "Log events dropped because they are not song plays",
			ConstLabels: constLabels,
		}),
		Unmatched: f.NewGauge(prometheus.GaugeOpts{
			Name:        "songlake_unmatched_events",
			Help:        "Song plays with no matching catalog entry in the last run",
			ConstLabels: constLabels,
		}),
		RowsWritten: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "songlake_table_rows",
			Help:        "Rows written per table in the last run",
			ConstLabels: constLabels,
		}, []string{"table"}),
		FilesWritten: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "songlake_table_files",
			Help:        "Parquet files written per table in the last run",
			ConstLabels: constLabels,
		}, []string{"table"}),
		StageDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "songlake_stage_duration_seconds",
			Help:        "Wall time per pipeline stage in the last run",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name:        "songlake_last_success_timestamp_seconds",
			Help:        "Unix time of the last successful run",
			ConstLabels: constLabels,
		}),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Name:        "songlake_run_duration_seconds",
			Help:        "Wall time of the last run",
			ConstLabels: constLabels,
		}),
	}
}

// Registry returns the job's registry.
func (j *Job) Registry() *prometheus.Registry {
	return j.registry
}

// ObserveRead records one input read.
func (j *Job) ObserveRead(source string, records, retained int64, nulled map[string]int64) {
	j.RecordsRead.WithLabelValues(source).Add(float64(records))
	for field, n := range nulled {
		j.FieldsNulled.WithLabelValues(source, field).Add(float64(n))
	}
	if dropped := records - retained; dropped > 0 {
		j.EventsFiltered.Add(float64(dropped))
	}
}

// ObserveStage records a stage's wall time.
func (j *Job) ObserveStage(stage string, d time.Duration) {
	j.StageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// ObserveTable records a table write.
func (j *Job) ObserveTable(table string, rows int64, files int) {
	j.RowsWritten.WithLabelValues(table).Set(float64(rows))
	j.FilesWritten.WithLabelValues(table).Set(float64(files))
}

// Finish records the run outcome.
func (j *Job) Finish(d time.Duration, succeeded bool, now time.Time) {
	j.RunDuration.Set(d.Seconds())
	if succeeded {
		j.LastSuccess.Set(float64(now.Unix()))
	}
}

// WriteTextfile writes the registry in the text exposition format to path.
// An empty path is a no-op.
func (j *Job) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, j.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
