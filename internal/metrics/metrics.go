package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/lcdsniff/internal/lcd"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler exposing reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// FrameMetrics records decoder output. It is a link.Sink.
type FrameMetrics struct {
	FramesTotal  *prometheus.CounterVec // labels: result=decoded|<reject reason>
	Interval     prometheus.Histogram   // seconds between completed frames
	PowerSetting prometheus.Gauge
	BrakingLevel prometheus.Gauge
	Synchronized prometheus.Gauge
}

// NewFrameMetrics registers and returns the frame metrics.
func NewFrameMetrics(reg prometheus.Registerer) *FrameMetrics {
	m := &FrameMetrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lcd_frames_total",
			Help: "Completed display frames by result.",
		}, []string{"result"}),
		Interval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lcd_frame_interval_seconds",
			Help:    "Time between successive frame completions.",
			Buckets: []float64{.025, .05, .1, .2, .3, .5, 1, 2, 5},
		}),
		PowerSetting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lcd_power_setting",
			Help: "Power setting of the last decoded frame.",
		}),
		BrakingLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lcd_braking_level",
			Help: "EABS level of the last decoded frame.",
		}),
		Synchronized: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lcd_synchronized",
			Help: "1 once a first frame with the expected sequence was decoded.",
		}),
	}
	reg.MustRegister(m.FramesTotal, m.Interval, m.PowerSetting, m.BrakingLevel, m.Synchronized)
	return m
}

func (m *FrameMetrics) Emit(ev lcd.Event) {
	switch ev.Kind {
	case lcd.EventDecoded:
		m.FramesTotal.WithLabelValues("decoded").Inc()
		m.Interval.Observe(ev.Frame.Interval.Seconds())
		m.PowerSetting.Set(float64(ev.Frame.PowerSetting))
		m.BrakingLevel.Set(float64(ev.Frame.BrakingLevel))
		m.Synchronized.Set(1)
	case lcd.EventRejected:
		m.FramesTotal.WithLabelValues(ev.Err.Reason.String()).Inc()
		m.Interval.Observe(ev.Err.Interval.Seconds())
	}
}
