package server

import (
	"log/slog"
	"net/http"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// HealthzHandler reports the overall gRPC health status over plain HTTP.
// It answers 503 unless the status is SERVING.
func HealthzHandler(checker healthpb.HealthServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := checker.Check(r.Context(), &healthpb.HealthCheckRequest{})
		if err != nil {
			resp = &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_UNKNOWN}
		}

		body, err := protojson.Marshal(resp)
		if err != nil {
			slog.Error("Failed to marshal health response", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		code := http.StatusOK
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if _, err := w.Write(body); err != nil {
			slog.Error("Failed to write health response", "error", err)
		}
	}
}
