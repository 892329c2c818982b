package driver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samsamfire/gotwai/pkg/twai"
)

// Prometheus collectors of one driver
type metrics struct {
	events      *prometheus.CounterVec
	rxFrames    prometheus.Counter
	txFrames    prometheus.Counter
	rxMissed    prometheus.Counter
	rxOverrun   prometheus.Counter
	txFailed    prometheus.Counter
	resets      prometheus.Counter
	tec         prometheus.Gauge
	rec         prometheus.Gauge
	txQueue     prometheus.Gauge
	rxQueue     prometheus.Gauge
	driverState prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, name string) *metrics {
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"controller": name}, reg))
	m := &metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twai_events_total",
			Help: "Decoded controller events by kind.",
		}, []string{"event"}),
		rxFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "twai_rx_frames_total",
			Help: "Total frames read from the RX FIFO and queued.",
		}),
		txFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "twai_tx_frames_total",
			Help: "Total frames written to the TX buffer.",
		}),
		rxMissed: factory.NewCounter(prometheus.CounterOpts{
			Name: "twai_rx_missed_total",
			Help: "Frames lost because the RX queue was full or a reset discarded the FIFO.",
		}),
		rxOverrun: factory.NewCounter(prometheus.CounterOpts{
			Name: "twai_rx_overrun_total",
			Help: "Frames lost to RX FIFO overruns.",
		}),
		txFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "twai_tx_failed_total",
			Help: "Transmissions that completed without acknowledgement or were flushed.",
		}),
		resets: factory.NewCounter(prometheus.CounterOpts{
			Name: "twai_peripheral_resets_total",
			Help: "Peripheral resets performed to work around controller errata.",
		}),
		tec: factory.NewGauge(prometheus.GaugeOpts{
			Name: "twai_tx_error_counter",
			Help: "Transmit error counter.",
		}),
		rec: factory.NewGauge(prometheus.GaugeOpts{
			Name: "twai_rx_error_counter",
			Help: "Receive error counter.",
		}),
		txQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "twai_tx_queue_depth",
			Help: "Frames waiting in the TX queue.",
		}),
		rxQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "twai_rx_queue_depth",
			Help: "Frames waiting in the RX queue.",
		}),
		driverState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "twai_driver_state",
			Help: "Driver state (0 stopped, 1 running, 2 bus-off, 3 recovering).",
		}),
	}
	// Pre-register every event series so that rates start from zero
	for _, ev := range twai.EventAll.List() {
		m.events.WithLabelValues(ev.String()).Add(0)
	}
	return m
}

func (m *metrics) observe(events twai.Events) {
	for _, ev := range events.List() {
		m.events.WithLabelValues(ev.String()).Inc()
	}
}
