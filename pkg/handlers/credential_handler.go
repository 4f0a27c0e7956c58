package handlers

import (
	"net/http"

	"restock-api/pkg/models"
	"restock-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// CredentialHandler ショップ認証情報のハンドラー
type CredentialHandler struct {
	credentials *services.CredentialService
}

// NewCredentialHandler 新しい認証情報ハンドラーを作成
func NewCredentialHandler(credentials *services.CredentialService) *CredentialHandler {
	return &CredentialHandler{credentials: credentials}
}

// CredentialRequest 認証情報登録のリクエストボディ
type CredentialRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

// PutCredential ショップのアクセストークンを登録・更新する
// PUT /api/v1/shops/:shop/credential
func (h *CredentialHandler) PutCredential(c *gin.Context) {
	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "access_tokenは必須です")
		return
	}

	cred := models.Credential{Shop: c.Param("shop"), AccessToken: req.AccessToken}
	if err := h.credentials.Save(c.Request.Context(), cred); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"shop": cred.Shop},
	})
}
