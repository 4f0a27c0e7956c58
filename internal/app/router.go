package app

import (
	"restock-api/pkg/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const adminPrefix = "/api/v1/admin"

// Router はHTTPルーターを構築します。
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(a.Monitoring.LoggingMiddleware())

	corsConfig := cors.DefaultConfig()
	if origins := a.Config.Origins(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-API-KEY")
	corsConfig.ExposeHeaders = []string{"X-Run-ID"}
	r.Use(cors.New(corsConfig))

	// ハンドラーの初期化
	predictionHandler := handlers.NewPredictionHandler(a.Predictions, a.Policy.DefaultPredictionDays)
	orderHandler := handlers.NewOrderHandler(a.History)
	credentialHandler := handlers.NewCredentialHandler(a.Credentials)
	adminHandler := handlers.NewAdminHandler(a.History, a.Monitoring)

	// ヘルスチェックエンドポイント
	r.GET("/health", handlers.HealthCheck)

	// APIバージョン1のルートグループ
	v1 := r.Group("/api/v1")
	v1.Use(handlers.APIKeyAuth(a.Config.APIKey))
	v1.Use(handlers.MaintenanceGuard(adminPrefix))
	{
		shops := v1.Group("/shops/:shop")
		{
			shops.GET("/predictions", predictionHandler.GetPredictions)
			shops.GET("/range-summary", predictionHandler.GetRangeSummary)
			shops.POST("/orders/import", orderHandler.ImportOrders)
			shops.PUT("/credential", credentialHandler.PutCredential)
		}

		// 管理者向けAPI
		admin := v1.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
			admin.POST("/orders/prune", adminHandler.PruneOrders)
		}

		// モニタリングAPI
		v1.GET("/monitoring/logs", adminHandler.GetRequestLogs)
	}

	return r
}
