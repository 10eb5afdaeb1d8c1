package anamnesis

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/apperrors"
	"anamnesis-backend/internal/shared/server/middleware"
	"anamnesis-backend/internal/shared/server/respond"
	"anamnesis-backend/internal/status"
)

// Handler wires HTTP handlers to the analysis service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/anamnesis")
	g.POST("", h.createAnalysis)
	g.GET("", h.listAnalyses)
	g.GET("/metrics/errors", h.errorMetrics)
	g.GET("/metrics/deduplication", h.dedupMetrics)
	g.GET("/:id", h.getAnalysis)
	g.GET("/:id/status", h.getStatus)
	g.DELETE("/:id", h.deleteAnalysis)
	g.POST("/:id/retry", h.retryAnalysis)
	g.POST("/:id/cancel", h.cancelAnalysis)
}

func (h *Handler) createAnalysis(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperrors.Validation("request body must be JSON with a primaryUrl", nil))
		return
	}

	res, err := h.Svc.CreateAnalysis(h.requestContext(c), middleware.UserIDFromContext(c), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	middleware.TagAnalysis(c, res.Analysis.ID)

	data := gin.H{
		"id":                  res.Analysis.ID,
		"status":              res.Analysis.Status,
		"estimatedCompletion": res.EstimatedCompletion,
		"sources":             res.Sources,
	}
	if len(res.Deduplication.Suggestions) > 0 {
		data["suggestions"] = res.Deduplication.Suggestions
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
		middleware.TagTransition(c, string(res.Analysis.Status))
	}
	respond.JSON(c, code, gin.H{
		"success":       true,
		"data":          data,
		"deduplication": res.Deduplication,
	})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	middleware.TagAnalysis(c, analysisID)

	view, err := h.Svc.GetAnalysisByID(h.requestContext(c), middleware.UserIDFromContext(c), analysisID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.Data(c, http.StatusOK, view)
}

func (h *Handler) getStatus(c *gin.Context) {
	analysisID := c.Param("id")
	middleware.TagAnalysis(c, analysisID)

	view, err := h.Svc.GetStatus(h.requestContext(c), middleware.UserIDFromContext(c), analysisID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.Data(c, http.StatusOK, view)
}

func (h *Handler) listAnalyses(c *gin.Context) {
	q := ListQuery{Status: c.Query("status")}

	page, ok := queryInt(c, "page")
	if !ok || (c.Query("page") != "" && page < 1) {
		h.writeError(c, apperrors.Validation("page must be a positive integer", map[string]any{"page": c.Query("page")}))
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok || (c.Query("limit") != "" && (limit < 1 || limit > MaxPageLimit)) {
		h.writeError(c, apperrors.Validation("limit must be an integer between 1 and 100", map[string]any{"limit": c.Query("limit")}))
		return
	}
	q.Page, q.Limit = page, limit

	res, err := h.Svc.ListAnalyses(h.requestContext(c), middleware.UserIDFromContext(c), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"success": true,
		"data":    res.Items,
		"pagination": gin.H{
			"total":      res.Total,
			"page":       res.Page,
			"limit":      res.Limit,
			"totalPages": res.TotalPages,
			"hasNext":    res.HasNext,
		},
	})
}

func (h *Handler) deleteAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	middleware.TagAnalysis(c, analysisID)

	if err := h.Svc.DeleteAnalysis(h.requestContext(c), middleware.UserIDFromContext(c), analysisID); err != nil {
		h.writeError(c, err)
		return
	}
	middleware.TagTransition(c, string(status.Error))
	respond.JSON(c, http.StatusOK, gin.H{"success": true, "data": gin.H{"id": analysisID, "deleted": true}})
}

func (h *Handler) retryAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	middleware.TagAnalysis(c, analysisID)

	analysis, err := h.Svc.RetryAnalysis(h.requestContext(c), middleware.UserIDFromContext(c), analysisID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	middleware.TagTransition(c, string(analysis.Status))
	respond.Data(c, http.StatusAccepted, analysis)
}

func (h *Handler) cancelAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	middleware.TagAnalysis(c, analysisID)

	analysis, err := h.Svc.CancelAnalysis(h.requestContext(c), middleware.UserIDFromContext(c), analysisID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	middleware.TagTransition(c, string(analysis.Status))
	respond.Data(c, http.StatusOK, analysis)
}

func (h *Handler) errorMetrics(c *gin.Context) {
	respond.Data(c, http.StatusOK, h.Svc.ErrorStats())
}

func (h *Handler) dedupMetrics(c *gin.Context) {
	respond.Data(c, http.StatusOK, h.Svc.DedupReport())
}

func (h *Handler) requestContext(c *gin.Context) context.Context {
	return WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}

func (h *Handler) writeError(c *gin.Context, err error) {
	structured := h.Svc.errorHandler().Handle(err, apperrors.Context{
		RequestID: middleware.RequestIDFromContext(c),
		UserID:    middleware.UserIDFromContext(c),
	})
	respond.StructuredError(c, httpStatusFor(structured), structured.Public())
}

func httpStatusFor(e *apperrors.Error) int {
	switch e.Code {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case ErrorCodeDuplicateActive, ErrorCodeNotRetryable, ErrorCodeNotCancellable, status.CodeInvalidTransition:
		return http.StatusConflict
	}
	switch e.Category {
	case apperrors.CategoryAuthentication:
		return http.StatusUnauthorized
	case apperrors.CategoryAuthorization:
		return http.StatusForbidden
	case apperrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case apperrors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CategoryExternalService, apperrors.CategoryNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// queryInt returns 0 for an absent parameter and false when it is present
// but not an integer.
func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
