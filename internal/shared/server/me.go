package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/apperrors"
	"anamnesis-backend/internal/shared/server/middleware"
	"anamnesis-backend/internal/shared/server/respond"
)

// meHandler echoes the caller identity resolved by the auth middleware.
func meHandler(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok || id.UserID == "" {
		respond.Error(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "missing or invalid token", nil)
		return
	}
	respond.Data(c, http.StatusOK, id)
}
