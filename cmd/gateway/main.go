// Package main is the entry point for the query gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/graphops/query-gateway/internal/auth"
	"github.com/graphops/query-gateway/internal/chainhead"
	"github.com/graphops/query-gateway/internal/config"
	"github.com/graphops/query-gateway/internal/ethereum"
	"github.com/graphops/query-gateway/internal/forwarder"
	"github.com/graphops/query-gateway/internal/gqlclient"
	"github.com/graphops/query-gateway/internal/handler"
	"github.com/graphops/query-gateway/internal/health"
	"github.com/graphops/query-gateway/internal/health/poicache"
	"github.com/graphops/query-gateway/internal/middleware"
	"github.com/graphops/query-gateway/internal/network"
	"github.com/graphops/query-gateway/internal/observations"
	"github.com/graphops/query-gateway/internal/receipts"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting query gateway",
		slog.String("environment", cfg.Server.Environment),
		slog.String("gateway_id", cfg.Gateway.GatewayID),
		slog.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Redis for the per-IP rate limit counters
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Receipt signer keys
	tapKey, err := crypto.HexToECDSA(cfg.Scalar.Signer)
	if err != nil {
		log.Fatalf("Failed to parse scalar signer key: %v", err)
	}
	legacyKey := tapKey
	if cfg.Scalar.LegacySigner != "" {
		legacyKey, err = crypto.HexToECDSA(cfg.Scalar.LegacySigner)
		if err != nil {
			log.Fatalf("Failed to parse legacy signer key: %v", err)
		}
	}
	verifier, err := ethereum.AddressFromHex(cfg.Scalar.Verifier)
	if err != nil {
		log.Fatalf("Failed to parse scalar verifier address: %v", err)
	}
	signer := receipts.NewSigner(tapKey, cfg.Scalar.ChainID, verifier, legacyKey)
	logger.Info("Receipt signer initialized", slog.String("scalar", cfg.Scalar.LogValue()))

	// Network topology refresh pipeline
	publisher := network.NewPublisher()
	fetcher := network.NewFetcher(
		gqlclient.New(cfg.Gateway.NetworkSubgraph, nil),
		network.Config{
			IndexersTimeout:  30 * time.Second,
			SubgraphsTimeout: 30 * time.Second,
		},
	)
	pipeline := health.NewPipeline(healthConfig(cfg), nil, poicache.New())
	refresh := network.NewRefreshTask(fetcher, pipeline, publisher, cfg.Gateway.RefreshInterval, logger)
	go refresh.Run(ctx)
	logger.Info("Topology refresh task started", slog.Duration("interval", cfg.Gateway.RefreshInterval))

	// Chain head tracking
	heads := chainhead.NewTracker(chainSources(cfg.Chains), cfg.Gateway.ChainHeadPollInterval, logger)
	go heads.Run(ctx)

	// API key store
	keyStore := auth.NewRefreshingStore(auth.NewHTTPKeySource(cfg.Gateway.APIKeysURL, nil), logger)
	go keyStore.Run(ctx, cfg.Gateway.APIKeysRefreshInterval)

	checker := auth.NewChecker(keyStore, auth.Config{
		PaymentRequired: cfg.Gateway.APIKeyPaymentRequired,
		SpecialKeys:     specialKeys(cfg.Gateway.SpecialAPIKeys, logger),
	})

	// Observations: attempt sink feeding the per-indexer stats tracker
	sink := observations.NewSink(1024)
	tracker := observations.NewTracker()
	go tracker.Consume(sink)
	defer sink.Close()

	budget := feesBudget(cfg.Gateway.QueryFeesTarget)
	fwd := forwarder.New(signer, sink, nil, budget)

	queryHandler := handler.NewQueryHandler(publisher, fwd, tracker, heads, handler.Config{
		Budget:          budget,
		RetryLimit:      cfg.Gateway.IndexerSelectionRetryLimit,
		MaxBlocksBehind: cfg.Gateway.MaxBlocksBehind,
		L2GatewayURL:    cfg.Gateway.L2Gateway,
	}, logger)

	// Setup router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/ready", handler.NewReadyHandler(publisher, heads).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(redisClient, middleware.RateLimitConfig{
			RequestsPerMinute: int(cfg.Gateway.IPRateLimit) * 60,
		}))
		r.Mount("/", queryHandler.Routes(checker))
	})

	// Prometheus metrics on a separate port
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("Metrics listening", slog.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("Server stopped gracefully")
}

// healthConfig translates the loaded configuration into the health
// pipeline's stage parameters, dropping blocklist entries that fail to parse.
// A version string that fails to parse is fatal.
func healthConfig(cfg *config.Config) health.Config {
	out := health.Config{
		HostBlocklistCIDRs: cfg.Gateway.HostBlocklistCIDRs,
	}

	for _, a := range cfg.Gateway.AddressBlocklist {
		addr, err := ethereum.AddressFromHex(a)
		if err != nil {
			slog.Warn("Skipping invalid address blocklist entry", slog.String("address", a))
			continue
		}
		out.AddrBlocklist = append(out.AddrBlocklist, addr)
	}

	for _, e := range cfg.Gateway.POIBlocklist {
		dep, err := ethereum.HashFromHex(e.Deployment)
		if err != nil {
			slog.Warn("Skipping invalid poi blocklist deployment", slog.String("deployment", e.Deployment))
			continue
		}
		poi, err := ethereum.HashFromHex(e.POI)
		if err != nil {
			slog.Warn("Skipping invalid poi blocklist entry", slog.Uint64("block", e.Block))
			continue
		}
		out.PoiBlocklist = append(out.PoiBlocklist, health.PoiBlockEntry{
			Deployment: dep,
			Block:      e.Block,
			POI:        poicache.POI(poi),
		})
	}

	out.Versions = health.VersionRequirements{
		MinAgentVersion:     parseVersion(cfg.Gateway.MinIndexerVersion),
		MinGraphNodeVersion: parseVersion(cfg.Gateway.MinGraphNodeVersion),
		TAPCutoverVersion:   parseVersion(cfg.Gateway.TAPCutoverVersion),
	}
	return out
}

func parseVersion(s string) *semver.Version {
	if s == "" {
		return nil
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		log.Fatalf("Failed to parse version %q: %v", s, err)
	}
	return v
}

// chainSources builds one chain head client per configured RPC. Auth tokens are passed to the clients and never logged.
func chainSources(chains []config.ChainConfig) []chainhead.Source {
	out := make([]chainhead.Source, 0, len(chains))
	for _, c := range chains {
		var client chainhead.Client
		switch c.RPCType {
		case "blockmeta":
			client = chainhead.NewBlockmetaClient(c.RPCURL, c.RPCAuth, nil)
		default:
			client = chainhead.NewEthereumClient(c.RPCURL, c.RPCAuth, nil)
		}
		out = append(out, chainhead.Source{Names: c.Names, Client: client})
	}
	return out
}

// specialKeys parses the configured payment-gating bypass keys, skipping malformed entries.
func specialKeys(keys []string, logger *slog.Logger) map[[16]byte]struct{} {
	if len(keys) == 0 {
		return nil
	}
	out := make(map[[16]byte]struct{}, len(keys))
	for _, k := range keys {
		parsed, err := auth.ParseToken(k)
		if err != nil {
			logger.Warn("Skipping invalid special api key")
			continue
		}
		out[parsed] = struct{}{}
	}
	return out
}

// feesBudget converts the GRT-denominated query_fees_target into wei.
func feesBudget(target float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(target), big.NewFloat(1e18)).Int(nil)
	if wei.Sign() <= 0 {
		return big.NewInt(0)
	}
	return wei
}
