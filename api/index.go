package handler

import (
	"context"
	"net/http"
	"os"
	"sync"

	config "restock-api/configs"
	"restock-api/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var (
	engine  *gin.Engine
	initErr error
	once    sync.Once
)

// setupApp はGinアプリケーションを初期化します。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行します。
func setupApp() (*gin.Engine, error) {
	once.Do(func() {
		// .envファイルはVercelの環境変数設定から読み込まれるため、ここではgodotenvを呼び出しません。
		cfg := config.LoadConfig()
		config.SetupLogger(cfg, os.Stderr)
		gin.SetMode(gin.ReleaseMode)

		policy, err := config.LoadPredictionPolicy(cfg.PolicyFile)
		if err != nil {
			initErr = err
			return
		}

		application, err := app.New(context.Background(), cfg, policy, app.Options{})
		if err != nil {
			initErr = err
			return
		}
		engine = application.Router()
		log.Info().Msg("サーバーレス関数を初期化しました")
	})
	return engine, initErr
}

// Handler はVercelのエントリーポイントです。
func Handler(w http.ResponseWriter, r *http.Request) {
	router, err := setupApp()
	if err != nil {
		log.Error().Err(err).Msg("サーバーレス関数の初期化に失敗しました")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	router.ServeHTTP(w, r)
}
