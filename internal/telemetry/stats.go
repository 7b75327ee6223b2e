// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

const namespace = "lifedash"

// Turn kinds.
const (
	KindText   = "text"
	KindVision = "vision"
)

// =============================================================================
// STATS
// =============================================================================

// Stats holds the turn collectors. It implements chat.Recorder.
type Stats struct {
	registry *prometheus.Registry
	started  time.Time

	turns           *prometheus.CounterVec
	fragments       prometheus.Counter
	anomalies       prometheus.Counter
	firstByte       prometheus.Histogram
	duration        *prometheus.HistogramVec
	persistFailures prometheus.Counter
	records         *prometheus.CounterVec
}

// New creates a Stats with its own registry.
func New() *Stats {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Stats{
		registry: reg,
		started:  time.Now(),

		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns by kind and outcome",
		}, []string{"kind", "outcome"}),

		fragments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Content fragments received from reply streams",
		}),

		anomalies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_anomalies_total",
			Help:      "Undecodable stream records skipped",
		}),

		firstByte: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_first_byte_seconds",
			Help:      "Delay until the first reply byte",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Total turn duration",
			Buckets:   []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"kind"}),

		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Conversation writes that failed",
		}),

		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Confirmed records by data type and result",
		}, []string{"data_type", "result"}),
	}
}

// Registry returns the private registry.
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// ObserveTurn records a finalized turn.
func (s *Stats) ObserveTurn(res *chat.Result) {
	if res == nil {
		return
	}
	kind := KindText
	if res.Vision {
		kind = KindVision
	}
	s.turns.WithLabelValues(kind, res.Outcome.String()).Inc()
	s.duration.WithLabelValues(kind).Observe(res.Duration.Seconds())

	if !res.Vision {
		s.fragments.Add(float64(res.Stream.Fragments))
		s.anomalies.Add(float64(res.Stream.Anomalies))
		if res.Stream.FirstByte > 0 {
			s.firstByte.Observe(res.Stream.FirstByte.Seconds())
		}
	}
}

// ObservePersist records the outcome of a conversation write.
func (s *Stats) ObservePersist(err error) {
	if err != nil {
		s.persistFailures.Inc()
	}
}

// ObserveRecord records a confirmed record submission.
func (s *Stats) ObserveRecord(dataType model.DataType, err error) {
	result := "saved"
	if err != nil {
		result = "failed"
	}
	s.records.WithLabelValues(string(dataType.DisplayType()), result).Inc()
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary is a snapshot of the collectors.
type Summary struct {
	Uptime time.Duration

	Turns       int
	Completed   int
	Failed      int
	Interrupted int
	Vision      int

	Fragments int
	Anomalies int

	AvgFirstByte time.Duration
	AvgDuration  time.Duration

	PersistFailures int
	RecordsSaved    int
	RecordsFailed   int
}

// Summary gathers the registry into a Summary.
func (s *Stats) Summary() Summary {
	sum := Summary{Uptime: time.Since(s.started)}

	families, err := s.registry.Gather()
	if err != nil {
		return sum
	}

	var durCount uint64
	var durSum float64
	for _, mf := range families {
		name := strings.TrimPrefix(mf.GetName(), namespace+"_")
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}

			switch name {
			case "turns_total":
				n := int(m.GetCounter().GetValue())
				sum.Turns += n
				switch labels["outcome"] {
				case chat.OutcomeComplete.String():
					sum.Completed += n
				case chat.OutcomeFailed.String():
					sum.Failed += n
				case chat.OutcomeInterrupted.String():
					sum.Interrupted += n
				}
				if labels["kind"] == KindVision {
					sum.Vision += n
				}
			case "stream_fragments_total":
				sum.Fragments = int(m.GetCounter().GetValue())
			case "stream_anomalies_total":
				sum.Anomalies = int(m.GetCounter().GetValue())
			case "turn_first_byte_seconds":
				sum.AvgFirstByte = average(m.GetHistogram().GetSampleSum(), m.GetHistogram().GetSampleCount())
			case "turn_duration_seconds":
				durCount += m.GetHistogram().GetSampleCount()
				durSum += m.GetHistogram().GetSampleSum()
			case "persist_failures_total":
				sum.PersistFailures = int(m.GetCounter().GetValue())
			case "records_total":
				n := int(m.GetCounter().GetValue())
				if labels["result"] == "saved" {
					sum.RecordsSaved += n
				} else {
					sum.RecordsFailed += n
				}
			}
		}
	}
	sum.AvgDuration = average(durSum, durCount)
	return sum
}

// String renders the summary for terminals.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session uptime:     %s\n", s.Uptime.Round(time.Second))
	fmt.Fprintf(&b, "Turns:              %d (%d complete, %d failed, %d interrupted)\n",
		s.Turns, s.Completed, s.Failed, s.Interrupted)
	if s.Vision > 0 {
		fmt.Fprintf(&b, "Image turns:        %d\n", s.Vision)
	}
	fmt.Fprintf(&b, "Stream fragments:   %d\n", s.Fragments)
	if s.Anomalies > 0 {
		fmt.Fprintf(&b, "Skipped records:    %d\n", s.Anomalies)
	}
	if s.AvgFirstByte > 0 {
		fmt.Fprintf(&b, "Avg first byte:     %s\n", s.AvgFirstByte.Round(time.Millisecond))
	}
	if s.AvgDuration > 0 {
		fmt.Fprintf(&b, "Avg turn duration:  %s\n", s.AvgDuration.Round(time.Millisecond))
	}
	if s.PersistFailures > 0 {
		fmt.Fprintf(&b, "Failed saves:       %d\n", s.PersistFailures)
	}
	fmt.Fprintf(&b, "Records saved:      %d", s.RecordsSaved)
	if s.RecordsFailed > 0 {
		fmt.Fprintf(&b, " (%d rejected)", s.RecordsFailed)
	}
	b.WriteByte('\n')
	return b.String()
}

func average(sum float64, count uint64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(math.Round(sum / float64(count) * float64(time.Second)))
}
