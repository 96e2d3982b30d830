package rtsa

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports runtime and session counters to Prometheus.
type Collector struct {
	rt *Runtime

	framesSent       *prometheus.Desc
	keyframesSent    *prometheus.Desc
	bytesSent        *prometheus.Desc
	framesNotJoined  *prometheus.Desc
	sendFailures     *prometheus.Desc
	keyframeRequests *prometheus.Desc
	sessionState     *prometheus.Desc
	events           *prometheus.Desc
}

// NewCollector returns a prometheus.Collector for rt. Register it with a
// prometheus.Registerer.
func NewCollector(rt *Runtime) *Collector {
	conn := []string{"handle", "channel"}
	return &Collector{
		rt: rt,
		framesSent: prometheus.NewDesc("rtsa_frames_sent_total",
			"Video frames accepted by the engine.", conn, nil),
		keyframesSent: prometheus.NewDesc("rtsa_keyframes_sent_total",
			"Keyframes accepted by the engine.", conn, nil),
		bytesSent: prometheus.NewDesc("rtsa_bytes_sent_total",
			"Payload bytes accepted by the engine.", conn, nil),
		framesNotJoined: prometheus.NewDesc("rtsa_frames_not_joined_total",
			"Frames rejected because the session was not joined.", conn, nil),
		sendFailures: prometheus.NewDesc("rtsa_send_failures_total",
			"Frames rejected by the engine.", conn, nil),
		keyframeRequests: prometheus.NewDesc("rtsa_keyframe_requests_total",
			"Keyframe requests received from peers.", conn, nil),
		sessionState: prometheus.NewDesc("rtsa_session_state",
			"Current session state, 1 for the active state.", append(conn, "state"), nil),
		events: prometheus.NewDesc("rtsa_events_total",
			"Engine events by outcome.", []string{"outcome"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesSent
	ch <- c.keyframesSent
	ch <- c.bytesSent
	ch <- c.framesNotJoined
	ch <- c.sendFailures
	ch <- c.keyframeRequests
	ch <- c.sessionState
	ch <- c.events
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.rt.Sessions() {
		handle := strconv.FormatUint(uint64(s.Handle()), 10)
		channel := s.Channel()
		st := s.Stats()

		counter := func(desc *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), handle, channel)
		}
		counter(c.framesSent, st.FramesSent)
		counter(c.keyframesSent, st.KeyframesSent)
		counter(c.bytesSent, st.BytesSent)
		counter(c.framesNotJoined, st.FramesNotJoined)
		counter(c.sendFailures, st.SendFailures)
		counter(c.keyframeRequests, st.KeyframeRequests)

		ch <- prometheus.MustNewConstMetric(c.sessionState, prometheus.GaugeValue, 1,
			handle, channel, s.State().String())
	}

	ds := c.rt.dispatcher.Stats()
	for outcome, v := range map[string]uint64{
		"dispatched": ds.Dispatched,
		"delivered":  ds.Delivered,
		"dropped":    ds.Dropped,
		"unroutable": ds.Unroutable,
		"stale":      ds.Stale,
	} {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), outcome)
	}
}
