package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/advertise"
	"github.com/timskillet/p2pshare/internal/api"
	"github.com/timskillet/p2pshare/internal/catalog"
	"github.com/timskillet/p2pshare/internal/client"
	"github.com/timskillet/p2pshare/internal/config"
	"github.com/timskillet/p2pshare/internal/dynamodb"
	"github.com/timskillet/p2pshare/internal/logging"
	"github.com/timskillet/p2pshare/internal/metrics"
	"github.com/timskillet/p2pshare/internal/node"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "p2p-node: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()
	log := logging.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := node.ResolveIdentity(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to resolve node identity: %w", err)
	}
	log = log.With(zap.String("node_id", id.NodeID))

	if err := os.MkdirAll(cfg.ShareDir, 0755); err != nil {
		return fmt.Errorf("failed to create share directory: %w", err)
	}

	log.Info("starting p2p node",
		zap.String("advertise_ip", id.AdvertiseIP),
		zap.Int("peer_port", cfg.PeerPort),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("share_dir", cfg.ShareDir),
		zap.String("download_dir", cfg.DownloadDir))

	sup := suture.New("p2p-node", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn("supervisor event", zap.String("event", e.String()), zap.Any("details", e.Map()))
		},
		Timeout: 10 * time.Second,
	})

	cat := catalog.New(cfg.DigestCacheSize, log)
	peerClient := client.New(log)

	sup.Add(node.NewServer(cfg.PeerPort, cfg.ShareDir, log))

	apiServer := api.NewServer(api.Options{
		NodeID:      id.NodeID,
		PeerPort:    cfg.PeerPort,
		ShareDir:    cfg.ShareDir,
		DownloadDir: cfg.DownloadDir,
	}, cat, peerClient, log)

	if cfg.AdvertiseEnabled {
		db, err := dynamodb.NewClient(ctx, cfg.AWSRegion)
		if err != nil {
			return fmt.Errorf("failed to create DynamoDB client: %w", err)
		}
		registry := dynamodb.NewRegistry(db, cfg.PeerRegistryTable, cfg.FileAvailabilityTable, cfg.PeerStaleAfter)
		apiServer.SetDirectory(registry)

		peer := dynamodb.PeerInfo{
			NodeID:   id.NodeID,
			Address:  id.AdvertiseIP,
			PeerPort: cfg.PeerPort,
			HTTPPort: portOf(cfg.HTTPAddr),
		}
		sup.Add(advertise.New(cat, registry, cfg.ShareDir, peer, cfg.AdvertiseInterval, log))

		log.Info("registry advertisement enabled",
			zap.String("region", cfg.AWSRegion),
			zap.String("peer_table", cfg.PeerRegistryTable),
			zap.String("file_table", cfg.FileAvailabilityTable),
			zap.Duration("interval", cfg.AdvertiseInterval))
	}

	sup.Add(api.NewHTTPService("http-api", cfg.HTTPAddr, apiServer.Handler(), log))
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		sup.Add(api.NewHTTPService("metrics", cfg.MetricsAddr, mux, log))
	}

	err = sup.Serve(ctx)
	log.Info("p2p node stopped")
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

// portOf extracts the numeric port from a listen address, or 0.
func portOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
