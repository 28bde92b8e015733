// Package metrics expone el endpoint Prometheus del kernel (§6), grounded
// en original_source/crates/metrics's MetricsHandle (hyper + prometheus)
// trasladado a net/http + github.com/prometheus/client_golang, el
// contraparte estándar en el ecosistema Go.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry agrupa todas las métricas del kernel. Las que se desagregan por
// cola, estrategia, razón o gate son Vec etiquetados, para que /metrics no
// requiera un registro nuevo cada vez que aparece un nuevo valor de
// etiqueta; el resto son Counter, Gauge o Histogram planos. El kernel solo
// actualiza Heartbeat; las demás series quedan registradas en su valor
// inicial.
type Registry struct {
	reg *prometheus.Registry

	Heartbeat prometheus.Counter

	QueueDepth      *prometheus.GaugeVec
	SnapshotRate    prometheus.Counter
	Intents         *prometheus.CounterVec
	Approvals       *prometheus.CounterVec
	SubmitLatency   prometheus.Histogram
	AckLatency      prometheus.Histogram
	FillLatency     prometheus.Histogram
	OpenOrders      prometheus.Gauge
	VenueHealthy    prometheus.Gauge
	RiskVetoes      *prometheus.CounterVec
	GateActive      *prometheus.GaugeVec
	RawEventsDropped prometheus.Counter
}

// New construye un Registry con todas las métricas registradas. Grounded
// en MetricsHandle::new's patrón de "crear, registrar, devolver" para cada
// métrica individual.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		Heartbeat: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traderd_heartbeat_total",
			Help: "Number of heartbeat ticks since startup.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "traderd_queue_depth",
			Help: "Current depth of an internal channel, by queue name.",
		}, []string{"queue"}),
		SnapshotRate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traderd_snapshots_emitted_total",
			Help: "Total number of state snapshots emitted by the state manager.",
		}),
		Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traderd_intents_total",
			Help: "Total number of intents received, by strategy and kind.",
		}, []string{"strategy", "kind"}),
		Approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traderd_approvals_total",
			Help: "Total number of arbiter decisions, by outcome and reason.",
		}, []string{"outcome", "reason"}),
		SubmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traderd_submit_latency_seconds",
			Help:    "Latency from approval to venue submit acceptance.",
			Buckets: prometheus.DefBuckets,
		}),
		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traderd_ack_latency_seconds",
			Help:    "Latency from submit to venue ack.",
			Buckets: prometheus.DefBuckets,
		}),
		FillLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traderd_fill_latency_seconds",
			Help:    "Latency from order submit to first fill.",
			Buckets: prometheus.DefBuckets,
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traderd_open_orders",
			Help: "Current number of orders not yet in a terminal state.",
		}),
		VenueHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traderd_venue_healthy",
			Help: "1 if the venue adapter reports healthy, 0 otherwise.",
		}),
		RiskVetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traderd_risk_vetoes_total",
			Help: "Total number of intents vetoed by the risk governor, by gate.",
		}, []string{"gate"}),
		GateActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "traderd_gate_active",
			Help: "1 if a risk governor gate is currently active, 0 otherwise.",
		}, []string{"gate"}),
		RawEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traderd_raw_events_dropped_total",
			Help: "Total number of raw venue events dropped by the audit writer under backpressure.",
		}),
	}

	reg.MustRegister(
		r.Heartbeat, r.QueueDepth, r.SnapshotRate, r.Intents, r.Approvals,
		r.SubmitLatency, r.AckLatency, r.FillLatency, r.OpenOrders,
		r.VenueHealthy, r.RiskVetoes, r.GateActive, r.RawEventsDropped,
	)
	return r
}

// Serve expone /metrics en addr hasta que ctx se cancele. Escucha en addr
// tal como llega; el valor por defecto de la configuración
// (127.0.0.1:9109) lo deja accesible solo desde el host.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %q: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	slog.Info("metrics: listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// RunHeartbeat arranca un ticker que incrementa r.Heartbeat cada interval
// hasta que ctx se cancele, trasladando el "heartbeat task" que el daemon
// original corre junto al exportador de métricas.
func (r *Registry) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Heartbeat.Inc()
		}
	}
}
