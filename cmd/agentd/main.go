// Command agentd runs a single autonomous-agent connector: it loads
// configuration, brings up the capability cache and coordination engine
// against the in-memory reference transport, and, when -listen is set,
// serves that store as relay gossip alongside the JSON API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agentconnector/capability"
	"agentconnector/config"
	"agentconnector/coordination"
	"agentconnector/crypto"
	"agentconnector/observability/logging"
	"agentconnector/social"
	"agentconnector/transport/memory"
	"agentconnector/transport/wsrelay"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	listenAddr := flag.String("listen", "", "Address to serve relay gossip on (ws://); empty disables the server")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("AGENTD_ENV"))
	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger := logging.Setup(cfg.Logging.Service, cfg.Logging.Env, logging.FileSink{
		Path:       cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if env != "" {
		logger = logger.With(slog.String("env_override", env))
	}

	key, err := crypto.ParsePrivateKey(cfg.CoordinatorKey)
	if err != nil {
		logger.Error("invalid coordinator key in config", slog.Any("error", err))
		os.Exit(1)
	}
	pubkeyHex := key.PublicKeyHex()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := memory.NewStore()
	signer := memory.NewSigner()
	signer.RegisterKey(key)
	followGraph := memory.NewFollowGraph(pubkeyHex)

	engine := coordination.NewEngine(store, signer, cfg.CoordinatorKey, pubkeyHex, logger)

	capService := capability.NewService(store, logger)
	cache := capability.NewCache(ctx, capService, capability.CacheConfig{
		MaxEntries:   cfg.Cache.MaxEntries,
		TTL:          time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		WarmupLimit:  cfg.Cache.WarmupLimit,
		RefreshEvery: time.Duration(cfg.Cache.RefreshIntervalSeconds) * time.Second,
		RefreshStale: cfg.Cache.RefreshStaleFraction,
	}, logger)
	defer cache.Close()

	discoveryRate := 20.0
	discovery := social.NewDiscovery(followGraph, capService, logger, discoveryRate)

	api := &connectorAPI{engine: engine, discovery: discovery, cache: cache, followers: followGraph, log: logger}

	logger.Info("agentd started", "pubkey", pubkeyHex, "data_dir", cfg.DataDir)

	mux := http.NewServeMux()
	api.register(mux)
	if strings.TrimSpace(*listenAddr) != "" {
		relayServer := wsrelay.NewServer(store)
		mux.Handle("/gossip", relayServer)
		srv := &http.Server{Addr: *listenAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("relay server stopped", slog.Any("error", err))
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	<-ctx.Done()
	logger.Info("agentd shutting down")
}
