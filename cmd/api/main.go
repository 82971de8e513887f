package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/gateway/httpclient"
	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/headless"
	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/httpapi"
	memidempotency "github.com/Overland-East-Bay/hosted-fields/internal/adapters/memory/idempotency"
	memtelemetry "github.com/Overland-East-Bay/hosted-fields/internal/adapters/memory/telemetry"
	postgres "github.com/Overland-East-Bay/hosted-fields/internal/adapters/postgres"
	pgidempotency "github.com/Overland-East-Bay/hosted-fields/internal/adapters/postgres/idempotency"
	pgtelemetry "github.com/Overland-East-Bay/hosted-fields/internal/adapters/postgres/telemetry"
	platformclock "github.com/Overland-East-Bay/hosted-fields/internal/platform/clock"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/config"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
	idempotencyport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/idempotency"
	telemetryport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/telemetry"
)

func main() {
	log, err := logging.New(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	port := getenv("PORT", "8080")

	gwCfg, err := config.LoadGatewayConfigFromEnv()
	if err != nil {
		return err
	}
	form, err := config.LoadFormConfigFromEnv()
	if err != nil {
		return err
	}

	// Auth configuration:
	// - Production: require API_KEY and enforce bearer auth
	// - Local dev: AUTH_MODE=dev leaves the harness open
	var authMW func(http.Handler) http.Handler
	switch getenv("AUTH_MODE", "apikey") {
	case "dev":
		log.Warn("authentication disabled (AUTH_MODE=dev)")
	default:
		key := os.Getenv("API_KEY")
		if key == "" {
			return errors.New("missing required env var: API_KEY (or set AUTH_MODE=dev)")
		}
		authMW = httpapi.NewAuthMiddleware(key)
	}

	clk := platformclock.NewSystemClock()

	var (
		idemStore idempotencyport.Store
		sink      telemetryport.Sink
	)
	switch backend := getenv("STORAGE_BACKEND", "memory"); backend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pool, err := postgres.NewPool(ctx, os.Getenv("DATABASE_URL"), postgres.PoolOptions{})
		if err != nil {
			cancel()
			return err
		}
		defer pool.Close()
		err = postgres.Migrate(ctx, pool)
		cancel()
		if err != nil {
			return err
		}
		idemStore = pgidempotency.NewStore(pool)
		sink = pgtelemetry.NewSink(pool)
	case "memory":
		idemStore = memidempotency.NewStore()
		sink = memtelemetry.NewSink()
	default:
		return errors.New("STORAGE_BACKEND must be memory or postgres, got " + backend)
	}
	log.Info("storage ready", zap.String("backend", getenv("STORAGE_BACKEND", "memory")))

	httpClient := &http.Client{Timeout: gwCfg.HTTPTimeout}
	var creds headless.Credentials
	if gwCfg.Authorization != "" {
		creds = headless.StaticCredentials{
			GatewayURL:               gwCfg.URL,
			AuthorizationFingerprint: gwCfg.Authorization,
			MerchantAccountID:        gwCfg.MerchantAccountID,
			SupportedCardTypes:       gwCfg.SupportedCardTypes,
		}
	} else {
		creds = headless.FingerprintCredentials{
			HTTP:               httpClient,
			GatewayURL:         gwCfg.URL,
			MerchantAccountID:  gwCfg.MerchantAccountID,
			SupportedCardTypes: gwCfg.SupportedCardTypes,
		}
	}

	sessions := headless.NewManager(headless.SessionConfig{
		Form:        form,
		Credentials: creds,
		Factory:     httpclient.NewFactory(httpClient),
		Sink:        sink,
		Platform:    headless.Platform{RequiresTabReachable: getenv("AUTOFILL_TAB_REACHABLE", "") == "true"},
		Clock:       clk,
		Logger:      log,
	})
	sessions.MaxSessions = getenvInt(log, "MAX_SESSIONS", 1000)
	defer sessions.CloseAll()

	api := httpapi.NewServer(sessions, idemStore, clk, log)
	handler := httpapi.NewRouterWithOptions(api, httpapi.RouterOptions{AuthMiddleware: authMW})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", srv.Addr), zap.Strings("fields", roleNames(form)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func roleNames(form config.FormConfig) []string {
	roles := form.Roles()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(log *zap.Logger, k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warn("ignoring invalid env var", zap.String("key", k), zap.String("value", v))
		return def
	}
	return n
}
