package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/dto"
	"github.com/variantlab/experiment-analytics-service/internal/service"
)

type Handler struct {
	analytics service.AnalyticsServicer
	router    *gin.Engine
	log       *zap.Logger
}

func NewHandler(analytics service.AnalyticsServicer, log *zap.Logger) *Handler {
	h := &Handler{
		analytics: analytics,
		router:    gin.Default(),
		log:       log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)

	h.router.POST("/events", h.publishEvent)
	h.router.GET("/rollups", h.queryRollups)

	h.router.POST("/assignments", h.upsertAssignment)
	h.router.GET("/assignments", h.getAssignment)

	h.router.POST("/experiments", h.upsertExperiment)
	h.router.GET("/experiments/:id", h.getExperiment)
	h.router.GET("/experiments/key/:key", h.getExperimentByKey)
	h.router.GET("/experiments/:id/assignments", h.listAssignments)
	h.router.POST("/experiments/:id/variants", h.upsertVariant)
	h.router.GET("/experiments/:id/variants", h.listVariants)

	h.router.GET("/stats", h.getStats)
	h.router.POST("/cleanup", h.cleanup)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// publishEvent handles POST /events
func (h *Handler) publishEvent(c *gin.Context) {
	var req dto.PublishEventRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid event request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if err := h.analytics.PublishEvent(c.Request.Context(), &req); err != nil {
		h.log.Error("Failed to publish event",
			zap.Error(err),
			zap.String("id", req.ID))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.PublishEventResponse{
		ID:     req.ID,
		Status: "accepted",
	})
}

// queryRollups handles GET /rollups
func (h *Handler) queryRollups(c *gin.Context) {
	var req dto.RollupQueryRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid rollup query", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	response, err := h.analytics.QueryRollups(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response)
}

// upsertAssignment handles POST /assignments
func (h *Handler) upsertAssignment(c *gin.Context) {
	var req dto.UpsertAssignmentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid assignment request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	response := h.analytics.UpsertAssignment(&req)

	c.JSON(http.StatusOK, response)
}

// getAssignment handles GET /assignments?experiment_id=&user_id=
func (h *Handler) getAssignment(c *gin.Context) {
	experimentID, err := strconv.ParseInt(c.Query("experiment_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: "experiment_id must be an integer",
		})
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: "user_id is required",
		})
		return
	}

	response, ok := h.analytics.GetAssignment(experimentID, userID)
	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: "not_found",
		})
		return
	}

	c.JSON(http.StatusOK, response)
}

// listAssignments handles GET /experiments/:id/assignments
func (h *Handler) listAssignments(c *gin.Context) {
	experimentID, ok := h.experimentID(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, h.analytics.ListAssignments(experimentID))
}

// upsertExperiment handles POST /experiments
func (h *Handler) upsertExperiment(c *gin.Context) {
	var req dto.UpsertExperimentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid experiment request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, h.analytics.UpsertExperiment(&req))
}

// getExperiment handles GET /experiments/:id
func (h *Handler) getExperiment(c *gin.Context) {
	experimentID, ok := h.experimentID(c)
	if !ok {
		return
	}

	response, found := h.analytics.GetExperiment(experimentID)
	if !found {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: "not_found",
		})
		return
	}

	c.JSON(http.StatusOK, response)
}

// getExperimentByKey handles GET /experiments/key/:key
func (h *Handler) getExperimentByKey(c *gin.Context) {
	response, found := h.analytics.GetExperimentByKey(c.Param("key"))
	if !found {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: "not_found",
		})
		return
	}

	c.JSON(http.StatusOK, response)
}

// upsertVariant handles POST /experiments/:id/variants
func (h *Handler) upsertVariant(c *gin.Context) {
	experimentID, ok := h.experimentID(c)
	if !ok {
		return
	}

	var req dto.UpsertVariantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid variant request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, h.analytics.UpsertVariant(experimentID, &req))
}

// listVariants handles GET /experiments/:id/variants
func (h *Handler) listVariants(c *gin.Context) {
	experimentID, ok := h.experimentID(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, h.analytics.ListVariants(experimentID))
}

// getStats handles GET /stats
func (h *Handler) getStats(c *gin.Context) {
	response, err := h.analytics.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response)
}

// cleanup handles POST /cleanup
func (h *Handler) cleanup(c *gin.Context) {
	var req dto.CleanupRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid cleanup request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	response, err := h.analytics.Cleanup(c.Request.Context(), req.RetentionDays)
	if err != nil {
		h.log.Error("Cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) experimentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: "experiment id must be an integer",
		})
		return 0, false
	}
	return id, true
}
