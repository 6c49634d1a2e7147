package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	pkgerrors "github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/grading"
)

const namespace = "coderunner"

// Error reasons used as label values.
const (
	ReasonSandbox       = "sandbox"
	ReasonConfiguration = "configuration"
	ReasonCancelled     = "cancelled"
	ReasonLanguage      = "language"
	ReasonOther         = "other"
)

// Metrics methods are safe to call on a nil *Metrics.
type Metrics struct {
	outcomes    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	busyWorkers prometheus.Gauge
}

// New creates the grading metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Graded submissions by language, grade and cache use",
			},
			[]string{"language", "grade", "cached"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grading_errors_total",
				Help:      "Submissions that could not be graded",
			},
			[]string{"reason"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "grading_duration_seconds",
				Help:      "Time spent grading one submission",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"language"},
		),
		busyWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "busy_workers",
				Help:      "Workers currently grading a submission",
			},
		),
	}
	reg.MustRegister(m.outcomes, m.errors, m.duration, m.busyWorkers)
	return m
}

func (m *Metrics) ObserveOutcome(language string, grade grading.Grade, cached bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	m.outcomes.WithLabelValues(language, string(grade), cachedLabel).Inc()
	if !cached {
		m.duration.WithLabelValues(language).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveError(err error) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(ErrorReason(err)).Inc()
}

func (m *Metrics) SetBusyWorkers(n int) {
	if m == nil {
		return
	}
	m.busyWorkers.Set(float64(n))
}

// ErrorReason maps a grading error to a low cardinality label.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, pkgerrors.ErrGradingCancelled):
		return ReasonCancelled
	case errors.Is(err, pkgerrors.ErrConfiguration):
		return ReasonConfiguration
	case errors.Is(err, pkgerrors.ErrInvalidLanguageType):
		return ReasonLanguage
	case errors.Is(err, pkgerrors.ErrSandbox):
		return ReasonSandbox
	default:
		return ReasonOther
	}
}

// Serve exposes gatherer on addr under /metrics in the background.
func Serve(addr string, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server stopped: %s", err)
		}
	}()
	return srv
}
