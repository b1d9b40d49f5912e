// Package ctrlglue is the thin Gin HTTP adapter over the spine's
// control surface: health, symbol listing, feed enable/disable, and
// replay session control. It holds no business logic — every handler
// marshals/unmarshals JSON and calls straight through to an injected
// capability interface.
//
// Grounded on
// _examples/Aidin1998-finalex/services/marketfeeds/services/marketfeeds/api/api.go's
// RegisterRoutes(*gin.Engine) shape (flat handler functions, gin.H
// JSON replies, ShouldBindJSON for request bodies), supplemented from
// _examples/original_source/src/ctrl/control_server.cpp for the
// endpoint set (start/stop feed, list symbols, replay control).
package ctrlglue

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketspine/marketspine/internal/config"
	"github.com/marketspine/marketspine/internal/replay"
	"github.com/marketspine/marketspine/internal/symbol"
)

// FeedController starts and stops named ingest feeds (mock, kafka).
type FeedController interface {
	StartFeed(name string) error
	StopFeed(name string) error
	FeedStatus() map[string]bool
}

// ReplayController is the subset of *replay.Replayer the control
// surface exposes.
type ReplayController interface {
	Start(fromTsNs, toTsNs uint64, topics []string, rateMultiplier float64) (string, error)
	Pause(id string) error
	Resume(id string) error
	Seek(id string, tsNs uint64) error
	Stop(id string) error
	List() []replay.Info
	Info(id string) (replay.Info, error)
}

// SymbolLister exposes the registry snapshot.
type SymbolLister interface {
	Snapshot() []symbol.Entry
}

// ConfigReloader re-reads the on-disk config and reports the result,
// backing POST /config/reload.
type ConfigReloader interface {
	ReloadConfig() (config.Config, error)
}

// TopicIntrospector exposes the publisher's registered virtual topic
// prefixes (one per active replay session, e.g. "replay.r1."),
// surfaced by the /feeds listing alongside live feed status.
type TopicIntrospector interface {
	VirtualPrefixes() []string
}

// RecorderInspector exposes recorder diagnostics for /health.
type RecorderInspector interface {
	CurrentSegmentIndexLen() int
}

// Server bundles the injected capabilities the routes dispatch to.
// Topics and Recorder are optional: their fields in the JSON
// responses are omitted when nil.
type Server struct {
	Feeds    FeedController
	Replay   ReplayController
	Symbols  SymbolLister
	Config   ConfigReloader
	Topics   TopicIntrospector
	Recorder RecorderInspector
}

// RegisterRoutes attaches every control-plane route to r.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/symbols", s.listSymbols)
	r.POST("/config/reload", s.reloadConfig)

	feeds := r.Group("/feeds")
	feeds.GET("", s.feedStatus)
	feeds.POST("/:name/start", s.startFeed)
	feeds.POST("/:name/stop", s.stopFeed)

	rep := r.Group("/replay")
	rep.POST("", s.startReplay)
	rep.GET("", s.listReplay)
	rep.GET("/:id", s.replayInfo)
	rep.POST("/:id/pause", s.pauseReplay)
	rep.POST("/:id/resume", s.resumeReplay)
	rep.POST("/:id/seek", s.seekReplay)
	rep.DELETE("/:id", s.stopReplay)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.Recorder != nil {
		body["recorder_index_entries"] = s.Recorder.CurrentSegmentIndexLen()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": s.Symbols.Snapshot()})
}

func (s *Server) reloadConfig(c *gin.Context) {
	cfg, err := s.Config.ReloadConfig()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "config": cfg})
}

func (s *Server) feedStatus(c *gin.Context) {
	body := gin.H{"feeds": s.Feeds.FeedStatus()}
	if s.Topics != nil {
		body["virtual_topics"] = s.Topics.VirtualPrefixes()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) startFeed(c *gin.Context) {
	if err := s.Feeds.StartFeed(c.Param("name")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "feed": c.Param("name")})
}

func (s *Server) stopFeed(c *gin.Context) {
	if err := s.Feeds.StopFeed(c.Param("name")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "feed": c.Param("name")})
}

type startReplayRequest struct {
	FromTsNs uint64   `json:"from_ts_ns"`
	ToTsNs   uint64   `json:"to_ts_ns"`
	Topics   []string `json:"topics"`
	Rate     float64  `json:"rate_multiplier"`
}

func (s *Server) startReplay(c *gin.Context) {
	var req startReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Rate == 0 {
		req.Rate = 1.0
	}
	id, err := s.Replay.Start(req.FromTsNs, req.ToTsNs, req.Topics, req.Rate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) listReplay(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.Replay.List()})
}

func (s *Server) replayInfo(c *gin.Context) {
	info, err := s.Replay.Info(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) pauseReplay(c *gin.Context) {
	if err := s.Replay.Pause(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeReplay(c *gin.Context) {
	if err := s.Replay.Resume(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

type seekReplayRequest struct {
	TsNs uint64 `json:"ts_ns"`
}

func (s *Server) seekReplay(c *gin.Context) {
	var req seekReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Replay.Seek(c.Param("id"), req.TsNs); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "seeked"})
}

func (s *Server) stopReplay(c *gin.Context) {
	if err := s.Replay.Stop(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}
