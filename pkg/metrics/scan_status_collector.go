package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StateCounter counts scan statuses per state.
type StateCounter interface {
	CountByState(ctx context.Context) (map[string]int64, error)
}

type scanStatusCollector struct {
	counter StateCounter
	byState *prometheus.Desc
}

// NewScanStatusCollector exposes the number of scans per lifecycle state,
// read from the store on every scrape.
func NewScanStatusCollector(c StateCounter) prometheus.Collector {
	return &scanStatusCollector{
		counter: c,
		byState: prometheus.NewDesc(
			fmt.Sprintf("%s_scans_by_state", scanWorker),
			"Number of scans in each lifecycle state.",
			[]string{stateLabel},
			prometheus.Labels{},
		),
	}
}

func (c *scanStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.byState
}

func (c *scanStatusCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.counter.CountByState(context.Background())
	if err != nil {
		zap.S().Named("scan_status_collector").Errorf("failed to count scans by state: %s", err)
		return
	}
	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.byState, prometheus.GaugeValue, float64(n), state)
	}
}
