package logd

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsNil(t *testing.T) {
	var metrics *Metrics
	metrics.frameIn(FrameReply)
	metrics.frameOut(FrameSend)
	metrics.errorFrame(ErrorKindSession)
	metrics.connect()
	metrics.disconnect()
	metrics.queue(1)
	metrics.reply(0.1)
	metrics.commandFailed()
	metrics.save()
}

func TestClientMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	client := newTestClient(t, &Session{Token: "t"}, func(settings *ClientSettings) {
		settings.Metrics = metrics
	}, nil)
	client.Init()
	conn := client.open(t, 0)

	assert.Equal(t, testutil.ToFloat64(metrics.connects), float64(1))
	assert.Equal(t, testutil.ToFloat64(metrics.framesIn.WithLabelValues(FrameConnected)), float64(1))
	assert.Equal(t, testutil.ToFloat64(metrics.framesOut.WithLabelValues("handshake")), float64(1))
	assert.Equal(t, testutil.ToFloat64(metrics.framesOut.WithLabelValues(FramePing)), float64(1))

	conn.deliver(`["forward",[[[["n1","L1"],[0,1]],{"type":"command","verb":"nope","path":["a"]}]]]`)
	conn.deliver(`["error","other"]`)
	waitFor(t, client.Client, func() bool {
		return testutil.ToFloat64(metrics.errorFrames.WithLabelValues("other")) == 1
	})
	assert.Equal(t, testutil.ToFloat64(metrics.commandFails), float64(1))

	client.Send("x", nil)
	waitFor(t, client.Client, func() bool {
		return testutil.ToFloat64(metrics.framesOut.WithLabelValues(FrameSend)) == 1
	})
	assert.Equal(t, testutil.ToFloat64(metrics.queueLen), float64(1))

	conn.deliver(`["reply",1,null]`)
	waitFor(t, client.Client, func() bool {
		return testutil.ToFloat64(metrics.queueLen) == 0
	})
	assert.Equal(t, testutil.CollectAndCount(metrics.replyLatency), 1)
	assert.NotEqual(t, testutil.ToFloat64(metrics.saves), float64(0))

	// the queue gauge follows the parent queue only
	sudoClient, err := client.Sudo("u2", nil)
	assert.Equal(t, err, nil)
	sudoClient.Send("y", nil)
	waitFor(t, sudoClient, func() bool {
		return sudoClient.State().QueueLen == 1
	})
	client.Sync()
	assert.Equal(t, testutil.ToFloat64(metrics.queueLen), float64(0))
	assert.Equal(t, testutil.ToFloat64(metrics.connects), float64(1))
}
