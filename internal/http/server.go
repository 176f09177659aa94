// Package http serves the read-only ops surface: health, execution history,
// engine stats and out-of-band evaluation.
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/area-platform/areaengine/internal/engine"
	"github.com/area-platform/areaengine/internal/service"
	"github.com/area-platform/areaengine/internal/store"
)

// OpsHandler serves the ops endpoints.
type OpsHandler struct {
	db         *gorm.DB
	executions *store.ExecutionStore
	registry   *service.Registry
	scheduler  *engine.Scheduler
	executor   *engine.Executor
}

// NewOpsHandler constructs an OpsHandler.
func NewOpsHandler(db *gorm.DB, executions *store.ExecutionStore, registry *service.Registry, scheduler *engine.Scheduler, executor *engine.Executor) *OpsHandler {
	return &OpsHandler{db: db, executions: executions, registry: registry, scheduler: scheduler, executor: executor}
}

// NewRouter builds the gin engine with all ops routes registered.
func NewRouter(handler *OpsHandler, keyHashes []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handler.Healthz)

	ops := router.Group("/v0/ops", APIKeyAuthMiddleware(keyHashes))
	ops.GET("/executions", handler.ListExecutions)
	ops.GET("/engine", handler.EngineStats)
	ops.GET("/providers", handler.ListProviders)
	ops.POST("/evaluate/:areaID", handler.EvaluateNow)

	return router
}

// Healthz checks database connectivity and returns status.
func (h *OpsHandler) Healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// executionEntry is one row of the execution history response.
type executionEntry struct {
	ID        uint64    `json:"id"`
	AreaID    string    `json:"area_id"`
	Phase     string    `json:"phase"`
	Outcome   string    `json:"outcome"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// ListExecutions serves the execution history, newest first.
func (h *OpsHandler) ListExecutions(c *gin.Context) {
	areaID := c.Query("area_id")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	rows, errList := h.executions.List(c.Request.Context(), areaID, limit)
	if errList != nil {
		log.Errorf("ops: list executions: %v", errList)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	entries := make([]executionEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, executionEntry{
			ID:        row.ID,
			AreaID:    row.AreaID,
			Phase:     row.Phase,
			Outcome:   row.Outcome,
			ErrorKind: row.ErrorKind,
			Message:   row.Message,
			Attempts:  row.Attempts,
			CreatedAt: row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"executions": entries})
}

// EngineStats serves scheduler and executor counters.
func (h *OpsHandler) EngineStats(c *gin.Context) {
	lastTick, evaluated, triggered, errored := h.scheduler.Stats()
	enqueued, dropped, succeeded, failed := h.executor.Stats()

	response := gin.H{
		"scheduler": gin.H{
			"evaluated": evaluated,
			"triggered": triggered,
			"errored":   errored,
		},
		"executor": gin.H{
			"enqueued":    enqueued,
			"dropped":     dropped,
			"succeeded":   succeeded,
			"failed":      failed,
			"queue_depth": h.executor.QueueDepth(),
		},
	}
	if !lastTick.IsZero() {
		response["scheduler"].(gin.H)["last_tick"] = lastTick
	}
	c.JSON(http.StatusOK, response)
}

// providerView describes one registered provider for the ops listing.
type providerView struct {
	Name               string   `json:"name"`
	RequiresCredential bool     `json:"requires_credential"`
	Triggers           []string `json:"triggers"`
	Reactions          []string `json:"reactions"`
}

// ListProviders serves the registered provider capability listing.
func (h *OpsHandler) ListProviders(c *gin.Context) {
	descriptors := h.registry.Descriptors()
	views := make([]providerView, 0, len(descriptors))
	for _, descriptor := range descriptors {
		view := providerView{
			Name:               descriptor.Name,
			RequiresCredential: descriptor.RequiresCredential,
			Triggers:           make([]string, 0, len(descriptor.Triggers)),
			Reactions:          make([]string, 0, len(descriptor.Reactions)),
		}
		for _, trigger := range descriptor.Triggers {
			view.Triggers = append(view.Triggers, trigger.Kind)
		}
		for _, reaction := range descriptor.Reactions {
			view.Reactions = append(view.Reactions, reaction.Kind)
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"providers": views})
}

// EvaluateNow forces one out-of-band evaluation for an Area.
func (h *OpsHandler) EvaluateNow(c *gin.Context) {
	areaID := c.Param("areaID")
	errEvaluate := h.scheduler.EvaluateNow(c.Request.Context(), areaID)
	switch {
	case errEvaluate == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(errEvaluate, store.ErrAreaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "area not found"})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": errEvaluate.Error()})
	}
}
