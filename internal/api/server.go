package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/sink"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported as serving.
const ServiceName = "sentinel.Analysis"

const maxBodyBytes = 64 << 20

// ReportSource produces a report for a packet collection.
type ReportSource interface {
	Report(ctx context.Context, packets []model.PacketRecord) (*model.Report, error)
}

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	Packets []model.PacketRecord `json:"packets"`
}

// Server holds the dependencies for the HTTP handlers.
type Server struct {
	reports   ReportSource
	detectors []string
	querier   sink.Querier
	metrics   *metrics.Recorder
	logger    *zap.Logger
}

// NewServer creates a server. querier and recorder may be nil.
func NewServer(reports ReportSource, detectors []string, querier sink.Querier, recorder *metrics.Recorder, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		reports:   reports,
		detectors: detectors,
		querier:   querier,
		metrics:   recorder,
		logger:    logger.Named("api"),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/analyze", s.analyzeHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/detectors", s.detectorsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/findings", s.findingsHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
		r.Use(s.instrument)
	}
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(r.Method, route, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// analyzeHandler runs a full analysis over the posted packets.
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	report, err := s.reports.Report(r.Context(), req.Packets)
	if err != nil {
		s.logger.Error("analysis failed", zap.Int("packets", len(req.Packets)), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("analysis failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) detectorsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"detectors": s.detectors})
}

// findingsHandler reads persisted findings. Query parameters: since
// (RFC 3339), detector, min_severity, limit.
func (s *Server) findingsHandler(w http.ResponseWriter, r *http.Request) {
	if s.querier == nil {
		writeError(w, http.StatusServiceUnavailable, "no findings store configured")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	findings, err := s.querier.Findings(r.Context(), filter)
	if err != nil {
		s.logger.Error("findings query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query findings: %v", err))
		return
	}
	if findings == nil {
		findings = []model.Finding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": findings})
}

func parseFilter(r *http.Request) (sink.FindingFilter, error) {
	q := r.URL.Query()
	var f sink.FindingFilter
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid since: %w", err)
		}
		f.Since = t
	}
	if v := q.Get("min_severity"); v != "" {
		sev, err := model.ParseSeverity(v)
		if err != nil {
			return f, err
		}
		f.MinSeverity = sev
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	f.Detector = q.Get("detector")
	return f, nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NewGRPCServer returns a gRPC server exposing the standard health service
// with ServiceName marked as serving.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

// Serve runs the HTTP API and, when grpcAddr is set, the gRPC health
// service until ctx ends, then shuts both down gracefully.
func (s *Server) Serve(ctx context.Context, httpAddr, grpcAddr string) error {
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)

	go func() {
		s.logger.Info("HTTP API starting", zap.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("could not listen on %s: %w", httpAddr, err)
		}
	}()

	var grpcServer *grpc.Server
	var hs *health.Server
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			httpServer.Close()
			return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
		}
		grpcServer, hs = NewGRPCServer()
		go func() {
			s.logger.Info("gRPC health service starting", zap.String("addr", grpcAddr))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("gRPC server failed: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	s.logger.Info("API shutting down")
	if hs != nil {
		hs.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server forced to shutdown: %w", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return runErr
}
