// Package server exposes the station status API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gocv.io/x/gocv"

	"github.com/mdcvision/dumpwatch/pkg/db"
	"github.com/mdcvision/dumpwatch/pkg/errors"
	"github.com/mdcvision/dumpwatch/pkg/station"
	"github.com/mdcvision/dumpwatch/pkg/stream"
)

const shutdownTimeout = 5 * time.Second

// StationView is the read-only surface the API needs per station.
type StationView interface {
	DumpID() int
	Snapshot() station.Snapshot
	LatestFrame(role string) *stream.Frame
}

// Server serves station status and preview frames over HTTP.
type Server struct {
	stations   map[int]StationView
	httpServer *http.Server
}

// New builds the server with one route set over the given stations.
func New(addr string, stations []StationView) *Server {
	s := &Server{stations: make(map[int]StationView, len(stations))}
	for _, st := range stations {
		s.stations[st.DumpID()] = st
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/stations/:id", s.handleStation)
	api.GET("/stations/:id/frames/:role", s.handleFrame)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	slog.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	snapshots := make([]station.Snapshot, 0, len(s.stations))
	for _, st := range s.stations {
		snapshots = append(snapshots, st.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"stations": snapshots})
}

func (s *Server) handleStation(c *gin.Context) {
	st, ok := s.stationFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, st.Snapshot())
}

func (s *Server) handleFrame(c *gin.Context) {
	st, ok := s.stationFor(c)
	if !ok {
		return
	}
	role := c.Param("role")
	if role != db.RoleFront && role != db.RoleTop {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	frame := st.LatestFrame(role)
	if frame == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame available"})
		return
	}
	defer frame.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame.Mat)
	if err != nil {
		slog.Error("frame_encode_failed", "role", role, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	defer buf.Close()
	c.Data(http.StatusOK, "image/jpeg", buf.GetBytes())
}

func (s *Server) stationFor(c *gin.Context) (StationView, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid station id"})
		return nil, false
	}
	st, ok := s.stations[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown station"})
		return nil, false
	}
	return st, true
}
