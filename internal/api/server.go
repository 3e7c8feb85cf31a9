// Package api exposes the query boundary over HTTP: positions by line
// or vehicle, stops, and next-courses-at-stop. Request parsing stays
// here; the core packages never see untyped parameters.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"transit-tracker/internal/course"
	"transit-tracker/internal/extrapolate"
	"transit-tracker/internal/fleet"
	"transit-tracker/internal/stopindex"
	"transit-tracker/internal/store"
)

// Server answers geospatial queries over the live position view.
type Server struct {
	store   *store.Store
	index   *stopindex.Index
	engine  *extrapolate.Engine
	matcher *course.Matcher

	defaultCourseLimit int
	now                func() time.Time
}

// NewServer wires the query surface over the given collaborators.
func NewServer(st *store.Store, idx *stopindex.Index, eng *extrapolate.Engine, m *course.Matcher, defaultCourseLimit int) *Server {
	if defaultCourseLimit <= 0 {
		defaultCourseLimit = 10
	}
	return &Server{
		store:              st,
		index:              idx,
		engine:             eng,
		matcher:            m,
		defaultCourseLimit: defaultCourseLimit,
		now:                time.Now,
	}
}

// Router builds the HTTP mux.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/positions/{vehicleId}", s.handlePositionByVehicle)
	mux.HandleFunc("GET /api/stops", s.handleStops)
	mux.HandleFunc("GET /api/stops/nearest", s.handleNearestStops)
	mux.HandleFunc("GET /api/stops/{stop}/courses", s.handleCourses)
	mux.HandleFunc("GET /api/trips/{tripId}/stops", s.handleStopsForTrip)
	return mux
}

// Start serves the API on addr with bounded request timeouts.
func (s *Server) Start(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()
	log.Printf("api listening on %s", addr)
	return srv
}

// Shutdown stops the server started by Start.
func Shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("api shutdown error: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"liveVehicles": s.store.Len(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	lineID := r.URL.Query().Get("line")
	now := s.now()
	positions := s.store.ByLine(lineID)
	out := make([]fleet.ExtrapolatedPosition, 0, len(positions))
	for _, pos := range positions {
		out = append(out, s.engine.Estimate(pos, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePositionByVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("vehicleId")
	pos, ok := s.store.ByVehicle(vehicleID)
	if !ok {
		writeError(w, fleet.ErrVehicleNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Estimate(pos, s.now()))
}

func (s *Server) handleStops(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.index.StopsForLine(r.URL.Query().Get("line")))
}

func (s *Server) handleNearestStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, &fleet.ValidationError{Field: "lat", Detail: "must be a decimal degree value"})
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeError(w, &fleet.ValidationError{Field: "lon", Detail: "must be a decimal degree value"})
		return
	}
	limit := s.defaultCourseLimit
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, &fleet.ValidationError{Field: "limit", Detail: "must be an integer"})
			return
		}
	}
	writeJSON(w, http.StatusOK, s.index.NearestStops(lat, lon, limit))
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	stopID, err := fleet.ParseStopID(r.PathValue("stop"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := s.defaultCourseLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, &fleet.ValidationError{Field: "limit", Detail: "must be an integer"})
			return
		}
	}
	courses, err := s.matcher.CoursesForStop(stopID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

func (s *Server) handleStopsForTrip(w http.ResponseWriter, r *http.Request) {
	stops, err := s.index.NextStopsForTrip(r.PathValue("tripId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stops)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// writeError maps the error taxonomy to status codes, keeping the kind
// visible to the client instead of a generic failure.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.Is(err, fleet.ErrValidation), errors.Is(err, fleet.ErrInvalidLimit):
		status = http.StatusBadRequest
		kind = "validation"
	case errors.Is(err, fleet.ErrStopNotFound), errors.Is(err, fleet.ErrVehicleNotFound), errors.Is(err, fleet.ErrTripNotFound):
		status = http.StatusNotFound
		kind = "not_found"
	default:
		var derr *fleet.DependencyError
		if errors.As(err, &derr) {
			status = http.StatusServiceUnavailable
			kind = "dependency"
		}
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"kind":    kind,
		"error":   fmt.Sprintf("%v", err),
	})
}
