package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treadmill_frames_received_total",
		Help: "Telemetry frames received by source",
	}, []string{"source"})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treadmill_frames_dropped_total",
		Help: "Telemetry frames dropped because the consumer was behind",
	})

	FramesMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treadmill_frames_malformed_total",
		Help: "Telemetry frames that failed to decode, by source",
	}, []string{"source"})

	CommandFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treadmill_command_failures_total",
		Help: "Control point commands that were rejected or failed",
	}, []string{"op"})

	GhostRecomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treadmill_ghost_recomputations_total",
		Help: "Ghost gap recomputations after the user moved at least 0.1 m",
	})

	TrackPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treadmill_track_points_total",
		Help: "Track points appended to the session log",
	})

	SegmentTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treadmill_segment_transitions_total",
		Help: "Routine segments entered",
	})

	SpeedKmh = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treadmill_speed_kmh",
		Help: "Latest belt speed",
	})

	DistanceKm = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treadmill_distance_km",
		Help: "Distance covered in the current session",
	})

	HeartRateBpm = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treadmill_heart_rate_bpm",
		Help: "Latest heart rate, 0 when unknown",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treadmill_sessions_total",
		Help: "Sessions finished, by outcome",
	}, []string{"outcome"})
)

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("Metrics: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Printf("Metrics: stopped")
	return nil
}
