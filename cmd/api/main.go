package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowdelivery/internal/config"
	"flowdelivery/internal/db"
	"flowdelivery/internal/delivery"
	internalhttp "flowdelivery/internal/http"
	"flowdelivery/internal/logger"
	"flowdelivery/internal/pricing"
	"flowdelivery/internal/services"
	"flowdelivery/internal/store"
	"flowdelivery/internal/tracking"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		zlog.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	jwtSecret := []byte(cfg.Auth.JWTSecret)
	tokenTTL := time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute

	hub := tracking.NewHub(zlog)
	storeSvc := services.NewStoreService(st, jwtSecret, tokenTTL)
	driverSvc := services.NewDriverService(st)
	orderSvc := services.NewOrderService(st)
	deliverySvc := services.NewDeliveryService(
		st,
		delivery.Policy{AllowSkip: cfg.Delivery.AllowSkip},
		pricing.Policy{FlatFeeCents: cfg.Delivery.FeeCents},
		hub,
		zlog,
	)

	h := internalhttp.NewHandler(storeSvc, driverSvc, orderSvc, deliverySvc, hub)
	srv := internalhttp.NewServer(h, jwtSecret, st, zlog)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		zlog.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
