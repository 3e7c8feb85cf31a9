package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"transit-tracker/internal/fleet"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// RTPoller periodically fetches a GTFS-realtime VehiclePositions feed
// and feeds each entity through the pipeline as an ordinary report.
type RTPoller struct {
	url      string
	interval time.Duration
	pipeline *Pipeline
	client   *http.Client
}

// NewRTPoller creates a poller for the given feed URL.
func NewRTPoller(url string, interval time.Duration, pipeline *Pipeline) *RTPoller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &RTPoller{
		url:      url,
		interval: interval,
		pipeline: pipeline,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Run polls until ctx is cancelled. A failed fetch is logged and the
// next tick tries again.
func (p *RTPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.poll(ctx); err != nil {
		log.Printf("gtfsrt: initial fetch: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				log.Printf("gtfsrt: fetch: %v", err)
			}
		}
	}
}

func (p *RTPoller) poll(ctx context.Context) error {
	msg, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	for _, entity := range msg.GetEntity() {
		v := entity.GetVehicle()
		if v == nil || v.GetPosition() == nil {
			continue
		}
		report := entityToReport(v)
		if err := p.pipeline.Accept(ctx, report); err != nil {
			log.Printf("gtfsrt: rejected entity %q: %v", entity.GetId(), err)
		}
	}
	return nil
}

func (p *RTPoller) fetch(ctx context.Context) (*gtfsrt.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &fleet.DependencyError{Dependency: "gtfsrt feed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &fleet.DependencyError{Dependency: "gtfsrt feed", Err: fmt.Errorf("status %s", resp.Status)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var msg gtfsrt.FeedMessage
	if err := proto.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return &msg, nil
}

// entityToReport maps one GTFS-RT vehicle entity to the ingest report
// shape. GTFS-RT speed is meters per second; headings match our degree
// convention as-is.
func entityToReport(v *gtfsrt.VehiclePosition) fleet.Report {
	pos := v.GetPosition()
	report := fleet.Report{
		VehicleID: v.GetVehicle().GetId(),
		LineID:    v.GetTrip().GetRouteId(),
		TripID:    v.GetTrip().GetTripId(),
		Latitude:  float64(pos.GetLatitude()),
		Longitude: float64(pos.GetLongitude()),
	}
	if pos.Bearing != nil {
		h := float64(pos.GetBearing())
		report.Heading = &h
	}
	if pos.Speed != nil {
		kph := float64(pos.GetSpeed()) * 3.6
		report.SpeedKph = &kph
	}
	if ts := v.GetTimestamp(); ts > 0 {
		report.ObservedAt = time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
	}
	if report.VehicleID == "" {
		// some feeds only label vehicles; fall back to the label before
		// the pipeline rejects the entity
		report.VehicleID = v.GetVehicle().GetLabel()
	}
	return report
}
