package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/trackseg/server/internal/cache"
	"github.com/trackseg/server/internal/clients/trace"
	"github.com/trackseg/server/internal/lib/geo"
	"github.com/trackseg/server/internal/lib/segment"
	"github.com/trackseg/server/internal/report"
	"github.com/trackseg/server/internal/services"
	"github.com/trackseg/server/internal/store"
)

const kmlContentType = "application/vnd.google-earth.kml+xml"

// maxBatchTraces bounds a single batch request
const maxBatchTraces = 100

// SegmentAPI is the service surface exposed over HTTP
type SegmentAPI interface {
	SegmentTrace(ctx context.Context, t trace.Trace, opts services.SegmentOptions) (*services.Result, error)
	SegmentTraces(ctx context.Context, traces []trace.Trace, opts services.SegmentOptions) ([]services.BatchResult, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*store.Run, error)
	CacheStats() cache.CacheStats
}

// SegmentRequest is the body of POST /api/v1/segments.
// Exactly one of Points and Polyline must be set.
type SegmentRequest struct {
	Name          string      `json:"name"`
	Points        []geo.Point `json:"points,omitempty"`
	Polyline      string      `json:"polyline,omitempty"`
	MinDistance   float64     `json:"min_distance,omitempty"`
	FlushTrailing *bool       `json:"flush_trailing,omitempty"`
}

// BatchRequest is the body of POST /api/v1/segments/batch
type BatchRequest struct {
	Traces        []SegmentRequest `json:"traces"`
	MinDistance   float64          `json:"min_distance,omitempty"`
	FlushTrailing *bool            `json:"flush_trailing,omitempty"`
}

// SegmentView is one segment as rendered over HTTP
type SegmentView struct {
	Start          geo.Point `json:"start"`
	End            geo.Point `json:"end"`
	DistanceMeters float64   `json:"distance_meters"`
	PointCount     int       `json:"point_count"`
	Polyline       string    `json:"polyline"`
	Description    string    `json:"description"`
}

// SegmentResponse is the result of segmenting one trace
type SegmentResponse struct {
	RunID         string         `json:"run_id"`
	Name          string         `json:"name"`
	InputPoints   int            `json:"input_points"`
	DedupedPoints int            `json:"deduplicated_points"`
	FlushTrailing bool           `json:"flush_trailing"`
	Cached        bool           `json:"cached"`
	Segments      []SegmentView  `json:"segments"`
	Summary       report.Summary `json:"summary"`
}

// BatchItem is one trace of a batch response; Error is set instead of Result on failure
type BatchItem struct {
	Name   string           `json:"name"`
	Result *SegmentResponse `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// BatchResponse holds batch results in request order
type BatchResponse struct {
	Results []BatchItem `json:"results"`
}

// RunsResponse lists stored runs
type RunsResponse struct {
	Runs []*store.Run `json:"runs"`
}

type gateway struct {
	api      SegmentAPI
	mux      *runtime.ServeMux
	geoUtils geo.GeoUtils
	logger   *slog.Logger
}

// RegisterHandlers adds the HTTP API to a grpc-gateway ServeMux, typically the
// one prefab hands to prefab.WithGRPCGateway.
func RegisterHandlers(mux *runtime.ServeMux, api SegmentAPI, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	g := &gateway{
		api:      api,
		mux:      mux,
		geoUtils: geo.NewGeoUtils(),
		logger:   logger,
	}

	routes := []struct {
		method, pattern string
		handler         runtime.HandlerFunc
	}{
		{http.MethodPost, "/api/v1/segments", g.createSegments},
		{http.MethodPost, "/api/v1/segments/batch", g.createBatch},
		{http.MethodGet, "/api/v1/runs", g.listRuns},
		{http.MethodGet, "/api/v1/runs/{id}", g.getRun},
		{http.MethodGet, "/api/v1/runs/{id}/kml", g.getRunKML},
		{http.MethodGet, "/api/v1/cache", g.cacheStats},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return fmt.Errorf("failed to register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	return nil
}

func (g *gateway) createSegments(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	inbound, outbound := runtime.MarshalerForRequest(g.mux, r)

	var req SegmentRequest
	if err := inbound.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, r, outbound, status.Errorf(codes.InvalidArgument, "invalid request body: %v", err))
		return
	}

	t, err := g.toTrace(req, 0)
	if err != nil {
		g.writeError(w, r, outbound, err)
		return
	}

	res, err := g.api.SegmentTrace(r.Context(), t, services.SegmentOptions{
		MinDistance:   req.MinDistance,
		FlushTrailing: req.FlushTrailing,
	})
	if err != nil {
		g.writeError(w, r, outbound, err)
		return
	}

	g.write(w, outbound, http.StatusOK, toResponse(res))
}

func (g *gateway) createBatch(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	inbound, outbound := runtime.MarshalerForRequest(g.mux, r)

	var req BatchRequest
	if err := inbound.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, r, outbound, status.Errorf(codes.InvalidArgument, "invalid request body: %v", err))
		return
	}
	if len(req.Traces) == 0 || len(req.Traces) > maxBatchTraces {
		g.writeError(w, r, outbound, status.Errorf(codes.InvalidArgument, "batch must contain between 1 and %d traces", maxBatchTraces))
		return
	}

	traces := make([]trace.Trace, len(req.Traces))
	for i, tr := range req.Traces {
		t, err := g.toTrace(tr, i)
		if err != nil {
			g.writeError(w, r, outbound, err)
			return
		}
		traces[i] = t
	}

	results, err := g.api.SegmentTraces(r.Context(), traces, services.SegmentOptions{
		MinDistance:   req.MinDistance,
		FlushTrailing: req.FlushTrailing,
	})
	if err != nil {
		g.writeError(w, r, outbound, err)
		return
	}

	items := make([]BatchItem, len(results))
	for i, res := range results {
		items[i] = BatchItem{Name: res.Name}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
			continue
		}
		resp := toResponse(res.Result)
		items[i].Result = &resp
	}

	g.write(w, outbound, http.StatusOK, BatchResponse{Results: items})
}

func (g *gateway) listRuns(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	_, outbound := runtime.MarshalerForRequest(g.mux, r)

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			g.writeError(w, r, outbound, status.Errorf(codes.InvalidArgument, "invalid limit %q", v))
			return
		}
		limit = n
	}

	runs, err := g.api.ListRuns(r.Context(), limit)
	if err != nil {
		g.writeError(w, r, outbound, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}

	g.write(w, outbound, http.StatusOK, RunsResponse{Runs: runs})
}

func (g *gateway) getRun(w http.ResponseWriter, r *http.Request, params map[string]string) {
	_, outbound := runtime.MarshalerForRequest(g.mux, r)

	run, err := g.api.GetRun(r.Context(), params["id"])
	if err != nil {
		g.writeError(w, r, outbound, err)
		return
	}

	g.write(w, outbound, http.StatusOK, run)
}

func (g *gateway) getRunKML(w http.ResponseWriter, r *http.Request, params map[string]string) {
	_, outbound := runtime.MarshalerForRequest(g.mux, r)

	run, err := g.api.GetRun(r.Context(), params["id"])
	if err != nil {
		g.writeError(w, r, outbound, err)
		return
	}

	w.Header().Set("Content-Type", kmlContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.ID+".kml"))
	if err := report.WriteKML(w, run.TraceName, run.Segments); err != nil {
		g.logger.Error("Failed to write KML", "run_id", run.ID, "error", err)
	}
}

func (g *gateway) cacheStats(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	_, outbound := runtime.MarshalerForRequest(g.mux, r)
	g.write(w, outbound, http.StatusOK, g.api.CacheStats())
}

// toTrace validates a request trace; index names the trace within a batch
func (g *gateway) toTrace(req SegmentRequest, index int) (trace.Trace, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("trace-%d", index+1)
	}

	switch {
	case len(req.Points) > 0 && req.Polyline != "":
		return trace.Trace{}, status.Errorf(codes.InvalidArgument, "%s: points and polyline are mutually exclusive", name)
	case req.Polyline != "":
		points, err := g.geoUtils.DecodePolyline(req.Polyline)
		if err != nil {
			return trace.Trace{}, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
		}
		return trace.Trace{Name: name, Points: points}, nil
	case len(req.Points) > 0:
		for i, p := range req.Points {
			if _, err := geo.NewPoint(p.Latitude, p.Longitude); err != nil {
				return trace.Trace{}, status.Errorf(codes.InvalidArgument, "%s: point %d: %v", name, i, err)
			}
		}
		return trace.Trace{Name: name, Points: req.Points}, nil
	default:
		return trace.Trace{}, status.Errorf(codes.InvalidArgument, "%s: %v", name, trace.ErrEmptyTrace)
	}
}

func toResponse(res *services.Result) SegmentResponse {
	views := make([]SegmentView, len(res.Segments))
	for i, s := range res.Segments {
		views[i] = SegmentView{
			Start:          s.Start(),
			End:            s.End(),
			DistanceMeters: s.Distance(),
			PointCount:     s.Len(),
			Polyline:       geo.EncodePolyline(s.Points()),
			Description:    report.Line(i, s),
		}
	}

	return SegmentResponse{
		RunID:         res.RunID,
		Name:          res.Name,
		InputPoints:   res.InputPoints,
		DedupedPoints: res.DedupedPoints,
		FlushTrailing: res.FlushTrailing,
		Cached:        res.Cached,
		Segments:      views,
		Summary:       res.Summary,
	}
}

func (g *gateway) write(w http.ResponseWriter, m runtime.Marshaler, code int, v any) {
	body, err := m.Marshal(v)
	if err != nil {
		g.logger.Error("Failed to marshal response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", m.ContentType(v))
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		g.logger.Error("Failed to write response", "error", err)
	}
}

func (g *gateway) writeError(w http.ResponseWriter, r *http.Request, m runtime.Marshaler, err error) {
	st := toStatus(err)
	if st.Code() == codes.Internal {
		g.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	runtime.HTTPError(r.Context(), g.mux, m, w, r, st.Err())
}

// toStatus maps domain errors onto gRPC status codes
func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}

	switch {
	case errors.Is(err, segment.ErrInsufficientPoints), errors.Is(err, trace.ErrEmptyTrace):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrRunNotFound):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	default:
		return status.New(codes.Internal, err.Error())
	}
}
