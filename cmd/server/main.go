package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"aichat-backend/internal/config"
	"aichat-backend/internal/handler"
	"aichat-backend/internal/provider"
	"aichat-backend/internal/service"
	"aichat-backend/internal/storage"
	"aichat-backend/internal/tools"
	"aichat-backend/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to the config file")
	flag.Parse()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to init storage: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	toolbox, err := tools.Load(ctx, cfg.Tools)
	if err != nil {
		logger.Fatalf("Failed to load tools: %v", err)
	}

	registry := provider.NewRegistry(cfg)
	chatService := service.NewChatService(cfg, store, registry, registry, toolbox)
	chatService.StartCleanup(ctx)

	chatHandler := handler.NewChatHandler(chatService, cfg.Server.StreamTimeout)
	router := handler.NewRouter(cfg, chatHandler)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("Server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := toolbox.Close(); err != nil {
		logger.Errorf("Failed to close tools: %v", err)
	}
	if err := store.Close(); err != nil {
		logger.Errorf("Failed to close storage: %v", err)
	}
	logger.Info("Server stopped")
}
