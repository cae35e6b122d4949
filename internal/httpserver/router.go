package httpserver

import (
	"context"
	"net/http"
	"time"

	"estatecrm/internal/handler"
	"estatecrm/pkg/otel"
	"estatecrm/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connection is satisfied by *mq.Publisher and *mq.Consumer.
type Connection interface {
	IsConnected() bool
}

type Handlers struct {
	Pipelines *handler.PipelineHandler
	Stages    *handler.StageHandler
	Deals     *handler.DealHandler
	Analytics *handler.AnalyticsHandler
	History   *handler.HistoryHandler
	Directory *handler.DirectoryHandler
}

type Options struct {
	JWTSecret string
	// DB and MQ are nil in memory mode; readiness then skips them.
	DB Pinger
	MQ Connection
}

func NewRouter(h Handlers, opts Options, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(traceID())
	r.Use(otel.GinMiddleware())
	r.Use(requestMetrics())
	r.Use(requestLogger(logger))

	// Health endpoints (放在最前面)
	health := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	headOK := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/healthz", health)
	r.HEAD("/healthz", headOK)
	r.GET("/health", health)
	r.HEAD("/health", headOK)

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if opts.DB != nil {
			if err := opts.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		if opts.MQ != nil && !opts.MQ.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(AuthMiddleware(opts.JWTSecret))

	readPipeline := RequirePermission(rbac.PermissionReadPipeline)
	managePipeline := RequirePermission(rbac.PermissionManagePipeline)
	readDeal := RequirePermission(rbac.PermissionReadDeal)
	writeDeal := RequirePermission(rbac.PermissionWriteDeal)
	deleteDeal := RequirePermission(rbac.PermissionDeleteDeal)
	readAnalytics := RequirePermission(rbac.PermissionReadAnalytics)

	pipelines := api.Group("/pipelines")
	{
		pipelines.GET("", readPipeline, h.Pipelines.List)
		pipelines.GET("/active", readPipeline, h.Pipelines.ListActive)
		pipelines.POST("", managePipeline, h.Pipelines.Create)
		pipelines.POST("/initialize-defaults", managePipeline, h.Pipelines.InitializeDefaults)
		pipelines.GET("/:id", readPipeline, h.Pipelines.Get)
		pipelines.GET("/:id/with-stages", readPipeline, h.Pipelines.GetWithStages)
		pipelines.PUT("/:id", managePipeline, h.Pipelines.Update)
		pipelines.DELETE("/:id", managePipeline, h.Pipelines.Delete)
		pipelines.GET("/:id/stages", readPipeline, h.Stages.ListByPipeline)
		pipelines.PUT("/:id/stages/order", managePipeline, h.Stages.Reorder)
		pipelines.GET("/:id/deals", readDeal, h.Deals.ListByPipeline)
		pipelines.GET("/:id/analytics/deals", readAnalytics, h.Analytics.Deals)
		pipelines.GET("/:id/analytics/stages", readAnalytics, h.Analytics.Stages)
		pipelines.GET("/:id/analytics/property-types", readAnalytics, h.Analytics.PropertyTypes)
	}

	stages := api.Group("/stages")
	{
		stages.GET("", readPipeline, h.Stages.List)
		stages.POST("", managePipeline, h.Stages.Create)
		stages.GET("/:id", readPipeline, h.Stages.Get)
		stages.GET("/:id/next", readPipeline, h.Stages.Next)
		stages.GET("/:id/previous", readPipeline, h.Stages.Previous)
		stages.PUT("/:id", managePipeline, h.Stages.Update)
		stages.DELETE("/:id", managePipeline, h.Stages.Delete)
		stages.GET("/:id/deals", readDeal, h.Deals.ListByStage)
		stages.GET("/:id/history", readDeal, h.History.ByStage)
		stages.GET("/:id/average-time", readAnalytics, h.History.AverageTimeInStage)
	}

	deals := api.Group("/deals")
	{
		deals.GET("", readDeal, h.Deals.List)
		deals.GET("/active", readDeal, h.Deals.ListActive)
		deals.GET("/overdue", readDeal, h.Deals.ListOverdue)
		deals.POST("", writeDeal, h.Deals.Create)
		deals.GET("/:id", readDeal, h.Deals.Get)
		deals.GET("/:id/details", readDeal, h.Deals.Details)
		deals.GET("/:id/history", readDeal, h.Deals.History)
		deals.GET("/:id/validate-move", readDeal, h.Deals.ValidateMove)
		deals.PUT("/:id", writeDeal, h.Deals.Update)
		deals.POST("/:id/move-stage", writeDeal, h.Deals.MoveStage)
		deals.POST("/:id/close", writeDeal, h.Deals.Close)
		deals.POST("/:id/reopen", writeDeal, h.Deals.Reopen)
		deals.DELETE("/:id", deleteDeal, h.Deals.Delete)
	}

	api.GET("/clients/:id/deals", readDeal, h.Deals.ListByClient)
	api.PUT("/clients/:id", writeDeal, h.Directory.PutClient)
	api.PUT("/properties/:id", writeDeal, h.Directory.PutProperty)

	history := api.Group("/history")
	{
		history.GET("/recent", readDeal, h.History.Recent)
		history.GET("/range", readDeal, h.History.Range)
	}

	return r
}
