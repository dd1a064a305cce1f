package dcmeasure

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.viam.com/rdk/logging"
)

const (
	MetricsNamespace = "dcmeasure"
)

var (
	judgmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "judgments_total",
		Help:      "Count of judged results",
	}, []string{
		"test",
		"site",
		"result",
	})

	measuredValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "measured_value",
		Help:      "Last parametric value per test and site",
	}, []string{
		"test",
		"site",
	})

	abortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "flow_aborts_total",
		Help:      "Count of test flows aborted by a test",
	}, []string{
		"test",
	})
)

// MetricsDatalog records judgments as prometheus metrics.
type MetricsDatalog struct{}

func (MetricsDatalog) Judge(_ context.Context, j Judgment) error {
	site := strconv.Itoa(j.Site)
	result := "pass"
	if !j.Passed {
		result = "fail"
	}
	judgmentsTotal.WithLabelValues(j.TestName, site, result).Inc()
	if !j.Functional {
		measuredValue.WithLabelValues(j.TestName, site).Set(j.Value)
	}
	return nil
}

func RecordAbort(test string) {
	abortsTotal.WithLabelValues(test).Inc()
}

// serveMetrics starts a metrics listener on addr. The caller shuts it down.
func serveMetrics(addr string, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Infof("starting metrics server on %s", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("error running metrics server: %v", err)
		}
	}()
	return srv
}
