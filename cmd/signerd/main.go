package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sigforge/config"
	"sigforge/flow"
	"sigforge/gateway"
	"sigforge/gateway/audit"
	"sigforge/gateway/middleware"
	"sigforge/ledger"
	"sigforge/nonce"
	"sigforge/observability/logging"
	"sigforge/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("signerd", cfg.Environment)

	networks, err := config.Load(cfg.NetworksFile)
	if err != nil {
		log.Fatalf("load networks: %v", err)
	}

	router := ledger.NewRouter()
	for key, network := range networks.Networks {
		router.Register(key, ledger.NewRPCClient(network.RPCURL, network.RPCAuthToken))
	}

	auditStore, err := audit.NewStore(cfg.AuditDBPath)
	if err != nil {
		log.Fatalf("open audit store: %v", err)
	}
	defer auditStore.Close()

	sessions := session.NewStore()
	sessions.StartSweeper()
	defer sessions.Close()

	selector := nonce.NewSelector(router)
	engine := flow.NewEngine(sessions, selector, networks.ChainIDs(), logger)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.AuthEnabled,
		HMACSecret: cfg.AuthHMACSecret,
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		ClockSkew:  cfg.AuthClockSkew,
	}, logger)
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.RateLimitBurst,
	})
	obs := middleware.NewObservability("signerd")

	server := gateway.NewServer(engine, sessions, router, auditStore, networks, auth, limiter, obs, logger)

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server,
	}

	go func() {
		logger.Info("signing gateway listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down signing gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "graceful shutdown failed: %v\n", err)
	}
}
