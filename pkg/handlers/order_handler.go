package handlers

import (
	"net/http"
	"strings"

	"restock-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// OrderHandler 注文履歴の取り込みハンドラー
type OrderHandler struct {
	history *services.OrderHistoryService
}

// NewOrderHandler 新しい注文履歴ハンドラーを作成
func NewOrderHandler(history *services.OrderHistoryService) *OrderHandler {
	return &OrderHandler{history: history}
}

// ImportOrders アップロードされた.xlsx/.csvの注文明細を履歴に取り込む
// POST /api/v1/shops/:shop/orders/import (multipart: file)
func (h *OrderHandler) ImportOrders(c *gin.Context) {
	shop := strings.TrimSpace(c.Param("shop"))

	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "ファイルのアップロードに失敗しました: %v", err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "ファイルを開けませんでした: " + err.Error()})
		return
	}
	defer file.Close()

	result, err := h.history.ImportSpreadsheet(c.Request.Context(), shop, fileHeader.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}
