package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/seabattle/internal"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置檔路徑")
	flag.Parse()

	// 載入配置
	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 設定日誌
	logger := setupLogger(config.Log.Level, config.Log.Format)
	slog.SetDefault(logger)

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		PoolSize:     config.Redis.PoolSize,
		MinIdleConns: config.Redis.MinIdleConns,
		MaxRetries:   config.Redis.MaxRetries,
		ReadTimeout:  config.Redis.ReadTimeout.Std(),
		WriteTimeout: config.Redis.WriteTimeout.Std(),
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// 連接 NATS（廣播層）
	broadcaster, err := internal.NewNATSBroadcaster(config.NATS.URL, logger)
	if err != nil {
		logger.Error("failed to connect to nats", "error", err)
		os.Exit(1)
	}
	defer broadcaster.Close()

	// 組裝核心組件
	store := internal.NewRedisRoomStore(redisClient, config.Game.RoomTTL.Std())
	matchmaker := internal.NewMatchmaker(store, logger)
	engine := internal.NewEngine(store, broadcaster,
		config.Game.ReadyFieldCount, config.Game.FleetCells, logger)
	auth := internal.NewHMACAuthenticator(config.Auth.Secret)
	hub := internal.NewSessionHub(store, matchmaker, engine, broadcaster, auth, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/game", hub.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	// WebSocket 升級後連線被劫持，Server 的超時只約束握手前的 HTTP 階段
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      mux,
		ReadTimeout:  config.Server.ReadTimeout.Std(),
		WriteTimeout: config.Server.WriteTimeout.Std(),
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("海戰會話服務器啟動",
			"port", config.Server.Port,
			"redis", config.Redis.Addr,
			"nats", config.NATS.URL)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
