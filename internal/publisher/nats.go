// Package publisher fans accepted vehicle positions out over NATS so
// downstream consumers (displays, archivers) see every update the
// tracker accepts.
package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"transit-tracker/internal/fleet"

	"github.com/nats-io/nats.go"
)

// PublisherMetrics decouples the publisher from the metrics collector.
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NATSPublisher publishes one JSON message per accepted position on
// subject <prefix>.<line>.<vehicle>.
type NATSPublisher struct {
	nc            *nats.Conn
	subjectPrefix string
	logSubjects   bool
	metrics       PublisherMetrics
}

// NewNATSPublisher connects to NATS and wires connection-state
// transitions into the metrics collector.
func NewNATSPublisher(url, subjectPrefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, subjectPrefix: subjectPrefix, logSubjects: logSubjects, metrics: m}, nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PublishPosition publishes the accepted position.
func (p *NATSPublisher) PublishPosition(pos fleet.VehiclePosition) error {
	subject := fmt.Sprintf("%s.%s.%s", p.subjectPrefix, subjectToken(pos.LineID), subjectToken(pos.VehicleID))
	b, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
