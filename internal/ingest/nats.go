package ingest

import (
	"context"
	"encoding/json"
	"log"

	"transit-tracker/internal/fleet"

	"github.com/nats-io/nats.go"
)

// Consumer feeds reports arriving on a NATS subject into the pipeline.
type Consumer struct {
	nc       *nats.Conn
	pipeline *Pipeline
	sub      *nats.Subscription
}

// NewConsumer connects to NATS. Reconnects are handled by the client;
// transitions are logged.
func NewConsumer(url string, pipeline *Pipeline) (*Consumer, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-tracker-ingest"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			log.Printf("ingest: nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("ingest: nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, pipeline: pipeline}, nil
}

// Subscribe starts consuming JSON reports from subject. Each message is
// one report; malformed or rejected messages are logged and dropped,
// they never stop the subscription.
func (c *Consumer) Subscribe(ctx context.Context, subject string) error {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		var report fleet.Report
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			log.Printf("ingest: malformed report on %s: %v", subject, err)
			return
		}
		if err := c.pipeline.Accept(ctx, report); err != nil {
			log.Printf("ingest: rejected report for %q: %v", report.VehicleID, err)
		}
	})
	if err != nil {
		return err
	}
	c.sub = sub
	log.Printf("ingest: subscribed to %s", subject)
	return nil
}

// Close drains the subscription and connection.
func (c *Consumer) Close() {
	if c.sub != nil {
		_ = c.sub.Drain()
	}
	if c.nc != nil {
		_ = c.nc.Drain()
		c.nc.Close()
	}
}
