package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/port"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStreamStateGauge(t *testing.T) {

	assert := assert.New(t)

	c := NewStreamCollector()
	c.StateChanged("A", port.StreamConnecting)
	c.StateChanged("A", port.StreamStreaming)

	assert.Equal(1.0, testutil.ToFloat64(c.streamState.WithLabelValues("A", "streaming")))
	assert.Equal(0.0, testutil.ToFloat64(c.streamState.WithLabelValues("A", "connecting")))
}

func TestRecordCounters(t *testing.T) {

	assert := assert.New(t)

	c := NewStreamCollector()
	c.RecordParsed("A", "roomTemperature", 21.5)
	c.RecordParsed("A", "errorCode", "E01")
	c.RecordDiscarded("A")
	c.Reconnect("A", 0)
	c.Reconnect("A", 100*time.Second)
	c.Reconnect("A", 100*time.Second)

	assert.Equal(2.0, testutil.ToFloat64(c.recordsParsed.WithLabelValues("A")))
	assert.Equal(1.0, testutil.ToFloat64(c.recordsDiscarded.WithLabelValues("A")))
	assert.Equal(21.5, testutil.ToFloat64(c.channelValue.WithLabelValues("A", "roomTemperature")))
	assert.Equal(1.0, testutil.ToFloat64(c.reconnects.WithLabelValues("A", "immediate")))
	assert.Equal(2.0, testutil.ToFloat64(c.reconnects.WithLabelValues("A", "cooldown")))
	// non numeric values are not exported
	assert.Equal(1, testutil.CollectAndCount(c.channelValue))
}

func TestHandler(t *testing.T) {

	assert := assert.New(t)

	c := NewStreamCollector()
	c.RecordParsed("A", "roomHumidity", 40.0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(http.StatusOK, rec.Code)
	assert.True(strings.Contains(rec.Body.String(), `energylive_channel_value{channel="roomHumidity",device="A"} 40`))
}
