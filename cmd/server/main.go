package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "restock-api/configs"
	"restock-api/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// .envファイルを読み込み
	envErr := godotenv.Load()

	// 設定の読み込み
	cfg := config.LoadConfig()
	config.SetupLogger(cfg, os.Stderr)
	if envErr != nil {
		log.Debug().Err(envErr).Msg(".envファイルが見つからないため環境変数のみを使用します")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	policy, err := config.LoadPredictionPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("予測ポリシーの読み込みに失敗しました")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, policy, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("アプリケーションの初期化に失敗しました")
	}
	defer application.Close()

	go application.RunPruneLoop(ctx, cfg.PruneInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("environment", cfg.Environment).Msg("Starting restock-api server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("シャットダウンしています")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("サーバーの停止に失敗しました")
	}
}
