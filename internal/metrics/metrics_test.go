package metrics

import (
	"testing"

	metrictestutil "github.com/caesium-cloud/fanout/internal/metrics/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
)

type MetricsSuite struct {
	suite.Suite
	registry *prometheus.Registry
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsSuite))
}

func (s *MetricsSuite) SetupTest() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(Collectors()...)
}

func (s *MetricsSuite) TestChildExecutionsTotalIncrements() {
	ChildExecutionsTotal.WithLabelValues("completed", "").Inc()
	ChildExecutionsTotal.WithLabelValues("failed", "timeout").Inc()
	ChildExecutionsTotal.WithLabelValues("failed", "timeout").Inc()

	val := metrictestutil.CounterValue(s.T(), ChildExecutionsTotal, "completed", "")
	s.GreaterOrEqual(val, float64(1))

	val = metrictestutil.CounterValue(s.T(), ChildExecutionsTotal, "failed", "timeout")
	s.GreaterOrEqual(val, float64(2))
}

func (s *MetricsSuite) TestChildExecutionDurationObserves() {
	ChildExecutionDurationSeconds.WithLabelValues("partial-test").Observe(12.5)

	families, err := s.registry.Gather()
	s.Require().NoError(err)

	found := false
	for _, fam := range families {
		if fam.GetName() != "fanout_child_execution_duration_seconds" {
			continue
		}
		for _, m := range fam.GetMetric() {
			h := m.GetHistogram()
			if h != nil && h.GetSampleCount() == 1 && h.GetSampleSum() == 12.5 {
				found = true
			}
		}
	}
	s.True(found, "expected histogram sample")
}

func (s *MetricsSuite) TestBatchesFinishedTotalIncrements() {
	BatchesFinishedTotal.WithLabelValues("partial").Inc()

	val := metrictestutil.CounterValue(s.T(), BatchesFinishedTotal, "partial")
	s.GreaterOrEqual(val, float64(1))
}

func (s *MetricsSuite) TestExecutionsInFlightGauge() {
	ExecutionsInFlight.Set(4)
	s.Equal(float64(4), metrictestutil.GaugeValue(s.T(), ExecutionsInFlight))
	ExecutionsInFlight.Set(0)
}

func (s *MetricsSuite) TestWorkerCounters() {
	WorkerClaimsTotal.WithLabelValues("node-a").Inc()
	WorkerClaimContentionTotal.WithLabelValues("node-a").Add(2)
	WorkerRecoveredTotal.WithLabelValues("node-a").Add(3)

	s.GreaterOrEqual(metrictestutil.CounterValue(s.T(), WorkerClaimsTotal, "node-a"), float64(1))
	s.GreaterOrEqual(metrictestutil.CounterValue(s.T(), WorkerClaimContentionTotal, "node-a"), float64(2))
	s.GreaterOrEqual(metrictestutil.CounterValue(s.T(), WorkerRecoveredTotal, "node-a"), float64(3))
}

func (s *MetricsSuite) TestEveryCollectorGathers() {
	BatchesSubmittedTotal.Inc()
	RemoteRequestsTotal.WithLabelValues("submit", "ok").Inc()

	families, err := s.registry.Gather()
	s.Require().NoError(err)

	names := map[string]bool{}
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	s.True(names["fanout_batches_submitted_total"])
	s.True(names["fanout_remote_requests_total"])
}
