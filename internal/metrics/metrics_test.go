package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/lcdsniff/internal/lcd"
)

func TestFrameMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFrameMetrics(reg)

	m.Emit(lcd.Event{Kind: lcd.EventDecoded, Frame: &lcd.DecodedFrame{PowerSetting: 100, BrakingLevel: 2, Interval: 100 * time.Millisecond}})
	m.Emit(lcd.Event{Kind: lcd.EventDecoded, Frame: &lcd.DecodedFrame{PowerSetting: 80, BrakingLevel: 1, Interval: 100 * time.Millisecond}})
	m.Emit(lcd.Event{Kind: lcd.EventRejected, Err: &lcd.FrameError{Reason: lcd.ReasonChecksumMismatch}})
	m.Emit(lcd.Event{})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("decoded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("checksum_mismatch")))
	assert.Equal(t, 80.0, testutil.ToFloat64(m.PowerSetting))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrakingLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Synchronized))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Interval))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewFrameMetrics(reg)
	m.Emit(lcd.Event{Kind: lcd.EventRejected, Err: &lcd.FrameError{Reason: lcd.ReasonPrefixMismatch}})

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lcd_frames_total{result="prefix_mismatch"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
