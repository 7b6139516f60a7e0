package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const (
	metricPrefix = "dailytrader_"

	ResultSuccess = "success"
	ResultSkipped = "skipped"
	ResultFatal   = "fatal"
	ResultHold    = "hold"
	ResultError   = "error"
)

// Metrics holds the cycle collectors. A nil *Metrics records nothing.
type Metrics struct {
	cycles  *prometheus.CounterVec
	orders  *prometheus.CounterVec
	balance prometheus.Gauge
	shares  prometheus.Gauge
	phase   prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycles_total",
				Help: "Trading cycles by the phase they ended in and result",
			},
			[]string{"phase", "result"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "orders_total",
				Help: "Orders by side and result",
			},
			[]string{"side", "result"},
		),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "balance_estimate",
			Help: "Running cash balance estimate",
		}),
		shares: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "shares_held",
			Help: "Shares currently held by the cycle",
		}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "phase",
			Help: "Current cycle phase ordinal",
		}),
	}
	reg.MustRegister(m.cycles, m.orders, m.balance, m.shares, m.phase)
	return m
}

func (m *Metrics) Cycle(phase, result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(phase, result).Inc()
}

func (m *Metrics) Order(side, result string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side, result).Inc()
}

func (m *Metrics) Holdings(balance, shares decimal.Decimal) {
	if m == nil {
		return
	}
	m.balance.Set(balance.InexactFloat64())
	m.shares.Set(shares.InexactFloat64())
}

func (m *Metrics) Phase(ordinal int) {
	if m == nil {
		return
	}
	m.phase.Set(float64(ordinal))
}

// Serve exposes gatherer on addr under /metrics until ctx ends.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
