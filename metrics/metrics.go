package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clinicmsg_messages_sent_total",
		Help: "Messages persisted through the dispatcher.",
	})
	SeenUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clinicmsg_seen_updates_total",
		Help: "markSeen calls that changed seen state.",
	})
	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicmsg_events_delivered_total",
		Help: "Real-time events emitted to live connections.",
	}, []string{"event"})
	DeliveryMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicmsg_delivery_misses_total",
		Help: "Broadcasts addressed to users with no live connection.",
	}, []string{"event"})
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicmsg_notifications_total",
		Help: "Inactivity notifications by outcome.",
	}, []string{"outcome"})
	NotifyDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clinicmsg_notify_queue_dropped_total",
		Help: "Post-send events dropped because the queue was full.",
	})
)

func init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(SeenUpdates)
	prometheus.MustRegister(EventsDelivered)
	prometheus.MustRegister(DeliveryMisses)
	prometheus.MustRegister(Notifications)
	prometheus.MustRegister(NotifyDropped)
}

// RegisterPresence exposes live presence counts as gauges.
func RegisterPresence(onlineUsers, connections func() float64) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "clinicmsg_online_users",
			Help: "Users with at least one live connection on this instance.",
		}, onlineUsers),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "clinicmsg_live_connections",
			Help: "Registered real-time connections on this instance.",
		}, connections),
	}
	for _, g := range gauges {
		if err := prometheus.Register(g); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

func Handler() http.Handler {
	return promhttp.Handler()
}
