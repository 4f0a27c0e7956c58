package handlers

import (
	"net/http"
	"sync/atomic"
	"time"

	"restock-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// isMaintenanceMode はサーバーがメンテナンスモードかどうかを示します。
// atomic.Boolを使用して、スレッドセーフな読み書きを保証します。
var isMaintenanceMode atomic.Bool

// AdminHandler は管理者向け操作のハンドラです。
type AdminHandler struct {
	history    *services.OrderHistoryService
	monitoring *services.MonitoringService
	now        func() time.Time
}

// NewAdminHandler は新しいAdminHandlerを生成します。
func NewAdminHandler(history *services.OrderHistoryService, monitoring *services.MonitoringService) *AdminHandler {
	return &AdminHandler{history: history, monitoring: monitoring, now: time.Now}
}

// GetRequestLogs は直近period (例: 1h, 24h, 7d) のリクエストログ集計を返します。
func (h *AdminHandler) GetRequestLogs(c *gin.Context) {
	hours, err := periodHours(c.DefaultQuery("period", "24h"))
	if err != nil {
		badRequest(c, "invalid period: %v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.monitoring.GetDashboardData(hours)})
}

// StartMaintenance はメンテナンスモードを開始します。
func (h *AdminHandler) StartMaintenance(c *gin.Context) {
	isMaintenanceMode.Store(true)
	log.Warn().Msg("メンテナンスモードを開始しました")
	c.JSON(http.StatusOK, gin.H{"message": "Maintenance mode started"})
}

// StopMaintenance はメンテナンスモードを停止します。
func (h *AdminHandler) StopMaintenance(c *gin.Context) {
	isMaintenanceMode.Store(false)
	log.Info().Msg("メンテナンスモードを停止しました")
	c.JSON(http.StatusOK, gin.H{"message": "Maintenance mode stopped"})
}

// GetHealthStatus は現在のサーバーの状態を返します。
func (h *AdminHandler) GetHealthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"isMaintenanceMode": isMaintenanceMode.Load()})
}

// PruneOrders は保持期間を過ぎた注文履歴を削除します。
func (h *AdminHandler) PruneOrders(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order history is not configured"})
		return
	}

	now := h.now()
	removed, err := h.history.Prune(c.Request.Context(), now)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"removed": removed,
			"cutoff":  h.history.RetentionCutoff(now).Format(dateLayout),
		},
	})
}

// MaintenanceGuard はメンテナンス中のAPIリクエストを503で拒否します。管理者APIは除外されます。
func MaintenanceGuard(adminPrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isMaintenanceMode.Load() && !hasPrefix(c.Request.URL.Path, adminPrefix) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Server is in maintenance mode"})
			return
		}
		c.Next()
	}
}

// HealthCheck は外部のヘルスチェッカー（例: ロードバランサー）からのリクエストに応答します。
func HealthCheck(c *gin.Context) {
	if isMaintenanceMode.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "message": "Server is in maintenance mode"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
