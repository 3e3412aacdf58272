package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenthands/catalog-dedup/internal/config"
	"github.com/agenthands/catalog-dedup/internal/core"
	"github.com/agenthands/catalog-dedup/internal/core/dedupe"
	"github.com/agenthands/catalog-dedup/internal/core/model"
	"github.com/agenthands/catalog-dedup/internal/driver"
	"github.com/agenthands/catalog-dedup/internal/llm"
	"github.com/agenthands/catalog-dedup/internal/metrics"
)

// previewRows is how many rows the preview endpoint returns.
const previewRows = 10

type Server struct {
	Deduper        *core.Deduper
	AllowedOrigins []string

	mu         sync.RWMutex
	lastRunID  string
	reviewList []*model.Record
}

func NewServer(deduper *core.Deduper, allowedOrigins []string) *Server {
	return &Server{Deduper: deduper, AllowedOrigins: allowedOrigins}
}

// NewServerFromConfig wires the model clients and record store named in cfg.
// The returned close function releases the store.
func NewServerFromConfig(ctx context.Context, cfg *config.Config) (*Server, func() error, error) {
	client, err := llm.NewGuardedClient(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	store, err := driver.NewRecordStore(ctx, cfg.Store, cfg.Dedup.IDField)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open record store: %w", err)
	}

	d := core.NewDeduper(cfg, client, dedupe.NewLLMAdjudicator(client), store)
	return NewServer(d, cfg.Server.AllowedOrigins), store.Close, nil
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors(s.AllowedOrigins))

	r.GET("/", s.Root)
	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.POST("/dedup/trigger", s.Trigger)
	api.POST("/dedup/run", s.RunInline)
	api.GET("/dedup/preview", s.Preview)
	api.GET("/review/list", s.ReviewList)
	api.POST("/review/decision", s.ReviewDecision)

	return r
}

func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Dedup service is running"})
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type TriggerRequest struct {
	DatasetID string `json:"dataset_id" binding:"required"`
	TableID   string `json:"table_id" binding:"required"`
	Limit     int    `json:"limit"`
}

func (s *Server) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	runID := uuid.New().String()
	ref := driver.TableRef{Dataset: req.DatasetID, Table: req.TableID}
	zap.L().Info("dedup triggered", zap.String("run_id", runID), zap.String("table", ref.String()))

	res, err := s.Deduper.RunTable(c.Request.Context(), ref, req.Limit)
	if err != nil {
		s.fail(c, runID, err)
		return
	}
	s.remember(runID, res.Records)

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"run_id":          runID,
		"processed_count": res.Processed,
		"output_table":    res.OutputTable,
		"stats":           res.Stats,
	})
}

type RunRequest struct {
	Records []map[string]any `json:"records" binding:"required"`
}

// RunInline deduplicates records posted in the request body without touching a store.
func (s *Server) RunInline(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	runID := uuid.New().String()
	idField := s.Deduper.IDField()
	res, err := s.Deduper.Run(c.Request.Context(), model.NewRecordSet(req.Records, idField))
	if err != nil {
		s.fail(c, runID, err)
		return
	}
	s.remember(runID, res.Records)

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"run_id":          runID,
		"processed_count": res.Processed,
		"stats":           res.Stats,
		"records":         res.Records.Records,
	})
}

func (s *Server) Preview(c *gin.Context) {
	ref := driver.TableRef{Dataset: c.Query("dataset_id"), Table: c.Query("table_id")}
	rs, err := s.Deduper.Preview(c.Request.Context(), ref, previewRows)
	if err != nil {
		s.fail(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rs.Records, "count": rs.Len()})
}

func (s *Server) ReviewList(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reviews := s.reviewList
	if reviews == nil {
		reviews = []*model.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": s.lastRunID, "reviews": reviews})
}

type ReviewDecision struct {
	RecordID string `json:"record_id" binding:"required"`
	Decision string `json:"decision" binding:"required"`
	GroupID  string `json:"group_id"`
}

func (s *Server) ReviewDecision(c *gin.Context) {
	var req ReviewDecision
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	zap.L().Info("review decision received",
		zap.String("record_id", req.RecordID),
		zap.String("decision", req.Decision),
		zap.String("group_id", req.GroupID))
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// remember keeps the review queue of the latest completed run.
func (s *Server) remember(runID string, rs *model.RecordSet) {
	queue := rs.ReviewQueue()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunID = runID
	s.reviewList = queue
}

func (s *Server) fail(c *gin.Context, runID string, err error) {
	status := http.StatusInternalServerError
	if dedupe.IsDataError(err) {
		status = http.StatusBadRequest
	}
	zap.L().Error("request failed", zap.String("run_id", runID), zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func cors(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			h := c.Writer.Header()
			switch {
			case slices.Contains(allowed, origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			case slices.Contains(allowed, "*"):
				// browsers reject credentials on a wildcard origin
				h.Set("Access-Control-Allow-Origin", "*")
			}
			if h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		zap.L().Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()))
	}
}
