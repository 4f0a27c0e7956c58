package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"restock-api/pkg/commerce"
	"restock-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const dateLayout = "2006-01-02"

// ログ集計は1時間単位のバケットで返すため、期間は7日までに制限する
const maxLogPeriodHours = 24 * 7

// errorStatus はサービス層のエラーをHTTPステータスに変換します。
func errorStatus(err error) int {
	var catalogErr *services.CatalogFetchError
	switch {
	case errors.Is(err, services.ErrCredentialMissing):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidPredictionDays),
		errors.Is(err, services.ErrInvalidCredential),
		errors.Is(err, services.ErrUnsupportedFile),
		errors.Is(err, services.ErrInvalidImportFile):
		return http.StatusBadRequest
	case errors.As(err, &catalogErr):
		if commerce.IsThrottled(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError はエラーをJSONで返します。5xxはログに記録されます。
func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Int("status", status).Msg("リクエストの処理に失敗")
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// badRequest は入力値エラーを400で返します。
func badRequest(c *gin.Context, format string, args ...interface{}) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fmt.Sprintf(format, args...)})
}

// parseDate はYYYY-MM-DD形式の日付をUTCで解釈します。
func parseDate(value string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(value), time.UTC)
}

// queryInt は整数のクエリパラメータを読み取ります。未指定の場合は既定値です。
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// queryBool は真偽値のクエリパラメータを読み取ります。
func queryBool(c *gin.Context, key string) (bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// periodHours は "6h" や "7d" 形式の期間を時間数に変換します。
func periodHours(raw string) (int, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if len(raw) < 2 {
		return 0, fmt.Errorf("%q must look like 24h or 7d", raw)
	}
	n, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q must look like 24h or 7d", raw)
	}
	switch raw[len(raw)-1] {
	case 'h':
	case 'd':
		n *= 24
	default:
		return 0, fmt.Errorf("%q must end with h or d", raw)
	}
	if n > maxLogPeriodHours {
		return 0, fmt.Errorf("%q exceeds %d hours", raw, maxLogPeriodHours)
	}
	return n, nil
}

func hasPrefix(path, prefix string) bool {
	return prefix != "" && strings.HasPrefix(path, prefix)
}
