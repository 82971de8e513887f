package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/gateway/stub"
	platformclock "github.com/Overland-East-Bay/hosted-fields/internal/platform/clock"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/config"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
)

// Dev-only tokenization gateway.
//
// It issues HS256 authorization fingerprints and tokenizes cards in memory so
// the api can be exercised locally without a real gateway account.
func main() {
	log, err := logging.New(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	port := getenv("PORT", "5556")
	cfg, err := config.LoadStubConfigFromEnv()
	if err != nil {
		log.Fatal("invalid stub config", zap.Error(err))
	}

	gw, err := stub.New(stub.Config{
		Secret:             cfg.Secret,
		Issuer:             cfg.Issuer,
		TTL:                cfg.TTL,
		SupportedCardTypes: cfg.SupportedCardTypes,
		Clock:              platformclock.NewSystemClock(),
		Logger:             log,
	})
	if err != nil {
		log.Fatal("build stub gateway", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("gateway stub listening", zap.String("addr", srv.Addr), zap.Duration("ttl", cfg.TTL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
