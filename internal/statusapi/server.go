// Package statusapi exposes the gateway's health and live datapoint
// state over HTTP (C6 in SPEC_FULL.md): an operator-facing read-only
// window onto the engine, answered by asking the reactor for a
// snapshot rather than sharing any mutable state with it.
package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	psutilcpu "github.com/shirou/gopsutil/v3/cpu"
	psutilmem "github.com/shirou/gopsutil/v3/mem"

	"xcomfortd/internal/engine"
)

// EngineSnapshotter is what the status API needs from the engine,
// narrowed to a read-only surface.
type EngineSnapshotter interface {
	Snapshot(ctx context.Context) (engine.Snapshot, bool)
	Connected() bool
}

// Server wraps a gin router serving /healthz and /status.
type Server struct {
	router *gin.Engine
	http   *http.Server
	eng    EngineSnapshotter
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	OK bool `json:"ok"`
}

// WindowStatus is the /status payload's in-flight window accounting.
type WindowStatus struct {
	InTransit int `json:"in_transit"`
	Max       int `json:"max"`
}

// HostStatus is the /status payload's host resource usage.
type HostStatus struct {
	CPUPercent float64 `json:"cpu_pct"`
	MemPercent float64 `json:"mem_pct"`
}

// DatapointStatus mirrors engine.DatapointSnapshot for JSON output.
type DatapointStatus struct {
	Datapoint       uint8  `json:"datapoint"`
	Event           string `json:"event"`
	NewValue        *int32 `json:"new_value"`
	SentValue       *int32 `json:"sent_value"`
	ActiveMessageID *int   `json:"active_message_id"`
	TimeoutMillis   int64  `json:"timeout_ms"`
	StatusRequests  int    `json:"status_requests"`
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	Connected  bool              `json:"connected"`
	Window     WindowStatus      `json:"window"`
	Datapoints []DatapointStatus `json:"datapoints"`
	Host       HostStatus        `json:"host"`
}

// New builds a Server listening on addr. It does not start serving until
// Run is called.
func New(addr string, eng EngineSnapshotter) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		eng:    eng,
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleHealth answers 200 {"ok": true} only once the reactor has
// completed its first full pass (USB opened, MQTT connected at least
// once); until then it answers 503 {"ok": false} (SPEC_FULL.md §12).
func (s *Server) handleHealth(c *gin.Context) {
	if !s.eng.Connected() {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{OK: false})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{OK: true})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, ok := s.eng.Snapshot(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not responding"})
		return
	}

	resp := StatusResponse{
		Connected: snap.Connected,
		Window: WindowStatus{
			InTransit: snap.InTransit,
			Max:       snap.Window,
		},
	}
	for _, dp := range snap.Datapoints {
		resp.Datapoints = append(resp.Datapoints, DatapointStatus{
			Datapoint:       dp.Datapoint,
			Event:           dp.Event,
			NewValue:        dp.NewValue,
			SentValue:       dp.SentValue,
			ActiveMessageID: dp.ActiveMessageID,
			TimeoutMillis:   dp.TimeoutMillis,
			StatusRequests:  dp.SentStatusRequests,
		})
	}

	if percents, err := psutilcpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp.Host.CPUPercent = percents[0]
	}
	if vm, err := psutilmem.VirtualMemory(); err == nil {
		resp.Host.MemPercent = vm.UsedPercent
	}

	c.JSON(http.StatusOK, resp)
}
