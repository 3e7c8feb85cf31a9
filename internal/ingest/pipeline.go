// Package ingest validates and normalizes incoming GPS reports and
// writes accepted reports into the position store. Reports arrive one
// at a time, from the NATS subject or the GTFS-RT poller.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"reflect"
	"strings"
	"time"

	"transit-tracker/internal/fleet"

	"github.com/go-playground/validator/v10"
)

// PositionSink is where accepted reports land. Satisfied by store.Store.
type PositionSink interface {
	Upsert(ctx context.Context, pos fleet.VehiclePosition) error
}

// PositionPublisher fans accepted positions out to downstream
// consumers. Publish failures are non-fatal: the report is already
// durable by the time publishing happens.
type PositionPublisher interface {
	PublishPosition(pos fleet.VehiclePosition) error
}

// Metrics receives ingest outcome counts. Satisfied by
// metrics.Collector; nil-safe via the pipeline.
type Metrics interface {
	ReportAccepted()
	ReportRejected(reason string)
	IngestObserve(d time.Duration)
}

// Pipeline validates raw reports and persists the resulting positions.
type Pipeline struct {
	sink      PositionSink
	publisher PositionPublisher
	metrics   Metrics
	validate  *validator.Validate
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher attaches a downstream publisher for accepted positions.
func WithPublisher(p PositionPublisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithMetrics attaches an ingest metrics receiver.
func WithMetrics(m Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithNow overrides the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// New creates a Pipeline writing into sink.
func New(sink PositionSink, opts ...Option) *Pipeline {
	validate := validator.New()
	// report errors by json field name, matching the wire shape
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	pl := &Pipeline{
		sink:     sink,
		validate: validate,
		now:      time.Now,
	}
	for _, o := range opts {
		o(pl)
	}
	return pl
}

// Accept validates one raw report and, if well formed, upserts the
// resulting position. Rejected reports are never partially written.
// Vehicles do not need to be known in advance.
func (pl *Pipeline) Accept(ctx context.Context, report fleet.Report) error {
	start := pl.now()
	pos, err := pl.normalize(report)
	if err != nil {
		pl.rejected(err)
		return err
	}
	if err := pl.sink.Upsert(ctx, pos); err != nil {
		pl.rejected(err)
		return err
	}
	if pl.metrics != nil {
		pl.metrics.ReportAccepted()
		pl.metrics.IngestObserve(pl.now().Sub(start))
	}
	if pl.publisher != nil {
		if err := pl.publisher.PublishPosition(pos); err != nil {
			log.Printf("ingest: publish position for %s: %v", pos.VehicleID, err)
		}
	}
	return nil
}

func (pl *Pipeline) rejected(err error) {
	if pl.metrics == nil {
		return
	}
	reason := "dependency"
	var verr *fleet.ValidationError
	if errors.As(err, &verr) {
		reason = verr.Field
	}
	pl.metrics.ReportRejected(reason)
}

// normalize checks the structural shape of the report and builds the
// VehiclePosition. The first failing field is named in the returned
// ValidationError.
func (pl *Pipeline) normalize(report fleet.Report) (fleet.VehiclePosition, error) {
	report.VehicleID = strings.TrimSpace(report.VehicleID)
	report.LineID = strings.TrimSpace(report.LineID)
	report.TripID = strings.TrimSpace(report.TripID)

	if err := pl.validate.Struct(report); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fleet.VehiclePosition{}, &fleet.ValidationError{
				Field:  fe.Field(),
				Detail: fmt.Sprintf("failed %q constraint", fe.Tag()),
			}
		}
		return fleet.VehiclePosition{}, &fleet.ValidationError{Field: "report", Detail: err.Error()}
	}

	observedAt := pl.now().UTC()
	if report.ObservedAt != "" {
		t, err := time.Parse(time.RFC3339, report.ObservedAt)
		if err != nil {
			return fleet.VehiclePosition{}, &fleet.ValidationError{
				Field:  "observedAt",
				Detail: fmt.Sprintf("%q is not RFC3339", report.ObservedAt),
			}
		}
		observedAt = t.UTC()
	}

	pos := fleet.VehiclePosition{
		VehicleID:  report.VehicleID,
		LineID:     report.LineID,
		TripID:     report.TripID,
		Latitude:   report.Latitude,
		Longitude:  report.Longitude,
		SpeedKph:   report.SpeedKph,
		ObservedAt: observedAt,
	}
	if report.Heading != nil {
		h := math.Mod(*report.Heading, 360)
		if h < 0 {
			h += 360
		}
		pos.Heading = &h
	}
	return pos, nil
}
