package handlers

import (
	"github.com/arbfeed/paygate/internal/middleware"
	"github.com/arbfeed/paygate/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Rate limit buckets
const (
	BucketStart  = "payments_start"
	BucketSettle = "payments_settle"
	BucketStatus = "status"
)

// RouterConfig is everything the HTTP surface is built from
type RouterConfig struct {
	Payments       *PaymentHandler
	Entitlements   *EntitlementHandler
	Admin          *AdminHandler
	DB             Pinger
	Limiter        ratelimit.Limiter
	AllowedOrigins []string
	JWTSecret      string
	AdminKeyHash   string
	Log            logrus.FieldLogger
}

// NewRouter wires routes and middleware
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	router.GET("/health", Health(cfg.DB))

	limit := func(bucket string) gin.HandlerFunc {
		return middleware.RateLimitMiddleware(cfg.Limiter, bucket, cfg.Log)
	}

	api := router.Group("/api/v1")
	{
		payments := api.Group("/payments")
		{
			payments.POST("/start", limit(BucketStart), cfg.Payments.Start)
			payments.POST("/settle", limit(BucketSettle), cfg.Payments.Settle)
		}

		api.GET("/entitlements/:wallet", limit(BucketStatus), cfg.Entitlements.Status)
		api.GET("/datasets/latest", middleware.JWTMiddleware(cfg.JWTSecret), cfg.Entitlements.DatasetLatest)

		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware(cfg.AdminKeyHash))
		{
			admin.POST("/datasets", cfg.Admin.PublishDataset)
			admin.GET("/reconciliation", cfg.Admin.ListReconciliation)
			admin.POST("/reconciliation/:id/resolve", cfg.Admin.ResolveReconciliation)
			admin.POST("/reconciliation/:id/replay", cfg.Admin.ReplayReconciliation)
		}
	}

	return router
}
