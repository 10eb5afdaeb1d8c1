package server

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/anamnesis"
	googleauth "anamnesis-backend/internal/auth"
	"anamnesis-backend/internal/services/health"
	"anamnesis-backend/internal/shared/config"
	"anamnesis-backend/internal/shared/metrics"
	"anamnesis-backend/internal/shared/server/middleware"
	"anamnesis-backend/internal/shared/server/respond"
)

const (
	rateGroupCreate = "CREATE"
	rateGroupRead   = "READ"
)

// RouterDeps carries the handlers mounted on the engine.
type RouterDeps struct {
	Config          config.Config
	DB              *sql.DB
	Verifier        middleware.TokenVerifier
	AnalysisHandler *anamnesis.Handler
	GoogleAuth      *googleauth.GoogleService
	RateLimiter     *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Verifier),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				rateGroupCreate: {Rate: 10.0 / 60.0, Burst: 10},
				rateGroupRead:   {Rate: 5, Burst: 60},
			},
			DefaultGroup: rateGroupRead,
			GroupFor:     rateGroupFor,
			Limiter:      deps.RateLimiter,
		}),
	)

	r.GET("/metrics", metrics.Handler())

	healthSvc := health.NewService(nil)
	if deps.DB != nil {
		healthSvc.DB = deps.DB
	}

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		status, ok := healthSvc.Status(c.Request.Context())
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(api)
	}
	api.GET("/me", meHandler)
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}

	return r
}

func rateGroupFor(c *gin.Context) string {
	if c.Request.Method == http.MethodPost && strings.HasSuffix(strings.TrimSuffix(c.Request.URL.Path, "/"), "/anamnesis") {
		return rateGroupCreate
	}
	return rateGroupRead
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
