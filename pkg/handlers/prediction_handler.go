package handlers

import (
	"net/http"
	"strings"

	"restock-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// PredictionHandler 補充予測と期間集計のハンドラー
type PredictionHandler struct {
	service               *services.PredictionService
	defaultPredictionDays int
}

// NewPredictionHandler 新しい予測ハンドラーを作成
func NewPredictionHandler(service *services.PredictionService, defaultPredictionDays int) *PredictionHandler {
	if defaultPredictionDays <= 0 {
		defaultPredictionDays = 30
	}
	return &PredictionHandler{
		service:               service,
		defaultPredictionDays: defaultPredictionDays,
	}
}

// GetPredictions バリアントごとの推奨補充数と緊急度を返す
// GET /api/v1/shops/:shop/predictions?prediction_days=30&status=active&skip_inventory=false
func (h *PredictionHandler) GetPredictions(c *gin.Context) {
	shop := strings.TrimSpace(c.Param("shop"))

	predictionDays, err := queryInt(c, "prediction_days", h.defaultPredictionDays)
	if err != nil {
		badRequest(c, "prediction_daysが不正です: %s", c.Query("prediction_days"))
		return
	}
	skipInventory, err := queryBool(c, "skip_inventory")
	if err != nil {
		badRequest(c, "skip_inventoryが不正です: %s", c.Query("skip_inventory"))
		return
	}

	result, err := h.service.GeneratePredictions(c.Request.Context(), shop, predictionDays, c.Query("status"), services.PredictionOptions{
		SkipInventory: skipInventory,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("X-Run-ID", result.RunID)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetRangeSummary 指定期間の販売実績を返す
// GET /api/v1/shops/:shop/range-summary?start=2024-05-01&end=2024-05-31&status=active
func (h *PredictionHandler) GetRangeSummary(c *gin.Context) {
	shop := strings.TrimSpace(c.Param("shop"))

	startStr, endStr := c.Query("start"), c.Query("end")
	if startStr == "" || endStr == "" {
		badRequest(c, "startとendは必須です (YYYY-MM-DD)")
		return
	}
	start, err := parseDate(startStr)
	if err != nil {
		badRequest(c, "startの日付形式が不正です: %s", startStr)
		return
	}
	end, err := parseDate(endStr)
	if err != nil {
		badRequest(c, "endの日付形式が不正です: %s", endStr)
		return
	}

	result, err := h.service.GenerateRangeSummary(c.Request.Context(), shop, start, end, c.Query("status"), services.PredictionOptions{})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("X-Run-ID", result.RunID)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}
