package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the success body shape.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// JSON writes a JSON response with the given status.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// Data writes payload wrapped in a success envelope.
func Data(c *gin.Context, status int, payload any) {
	JSON(c, status, Envelope{Success: true, Data: payload})
}

// OK writes a 200 OK JSON response.
func OK(c *gin.Context, payload any) {
	JSON(c, http.StatusOK, payload)
}
