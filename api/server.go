// Package api exposes sync triggering and reporting over HTTP for the
// storefront's admin dashboard.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"market_intel/config"
	"market_intel/models"
	"market_intel/services"
)

type Syncer interface {
	Run(ctx context.Context, site *models.Site) (*models.SyncResult, error)
}

type Reporter interface {
	Build(ctx context.Context, rangeDays int, category string) (*models.Report, error)
}

type Server struct {
	syncer   Syncer
	reporter Reporter
	registry *prometheus.Registry
	logger   *zap.Logger
}

func NewServer(syncer Syncer, reporter Reporter, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		syncer:   syncer,
		reporter: reporter,
		registry: registry,
		logger:   logger,
	}
}

// Handler builds the gin engine with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(RequestID(), RequestLogger(s.logger), Recovery(s.logger))

	r.GET("/healthz", s.health)
	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	g := r.Group("/api/market-intel")
	g.POST("/sync", s.sync)
	g.GET("/report", s.report)

	return r
}

type syncRequest struct {
	Site string `json:"site"`
}

func (s *Server) sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}

	var site *models.Site
	if req.Site != "" {
		id := models.Site(req.Site)
		if !id.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": config.ErrUnknownSite.Error() + ": " + req.Site})
			return
		}
		site = &id
	}

	result, err := s.syncer.Run(c.Request.Context(), site)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if !result.Success {
		_ = c.Error(errors.New(result.Error))
		c.JSON(http.StatusInternalServerError, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) report(c *gin.Context) {
	rangeDays := 0
	if raw := c.Query("rangeDays"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rangeDays must be an integer"})
			return
		}
		rangeDays = n
	}

	report, err := s.reporter.Build(c.Request.Context(), rangeDays, c.Query("category"))
	if err != nil {
		if errors.Is(err, services.ErrInvalidRange) || errors.Is(err, config.ErrUnknownCategory) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
