// Package advertise publishes this node and its shared files to the peer
// registry on a fixed interval.
package advertise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/dynamodb"
	"github.com/timskillet/p2pshare/internal/logging"
	"github.com/timskillet/p2pshare/internal/metrics"
	"github.com/timskillet/p2pshare/internal/types"
)

type Registry interface {
	RegisterPeer(ctx context.Context, peer *dynamodb.PeerInfo) error
	Heartbeat(ctx context.Context, nodeID string) error
	PutFile(ctx context.Context, fa *dynamodb.FileAvailability) error
	DeleteFile(ctx context.Context, digest, nodeID string) error
	PruneStalePeers(ctx context.Context) ([]string, error)
}

// Lister rescans a directory and returns its records.
type Lister interface {
	List(dir string) []types.FileRecord
}

type Advertiser struct {
	lister   Lister
	registry Registry
	shareDir string
	peer     dynamodb.PeerInfo
	interval time.Duration
	log      *zap.Logger

	// digests advertised in the previous round
	advertised map[string]struct{}
}

func New(lister Lister, registry Registry, shareDir string, peer dynamodb.PeerInfo, interval time.Duration, logger *zap.Logger) *Advertiser {
	return &Advertiser{
		lister:     lister,
		registry:   registry,
		shareDir:   shareDir,
		peer:       peer,
		interval:   interval,
		log:        logging.OrGlobal(logger).Named("advertiser").With(zap.String("node_id", peer.NodeID)),
		advertised: make(map[string]struct{}),
	}
}

// Serve registers the peer and then advertises once per interval until ctx
// is cancelled. A failed round is logged and retried on the next tick.
func (a *Advertiser) Serve(ctx context.Context) error {
	peer := a.peer
	if err := a.registry.RegisterPeer(ctx, &peer); err != nil {
		return fmt.Errorf("register peer: %w", err)
	}
	a.log.Info("registered with peer registry",
		zap.String("address", peer.Address),
		zap.Int("peer_port", peer.PeerPort))

	a.runRound(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.runRound(ctx)
		}
	}
}

func (a *Advertiser) String() string {
	return "advertiser"
}

func (a *Advertiser) runRound(ctx context.Context) {
	start := time.Now()
	err := a.Round(ctx)
	metrics.RecordAdvertiseRound(err == nil)
	if err != nil {
		a.log.Warn("advertise round failed", zap.Error(err))
		return
	}
	a.log.Debug("advertise round complete",
		zap.Int("files", len(a.advertised)),
		zap.Duration("duration", time.Since(start)))
}

// Round performs one heartbeat, republishes the current catalog, withdraws
// files that disappeared since the last round and prunes stale peers.
func (a *Advertiser) Round(ctx context.Context) error {
	if err := a.registry.Heartbeat(ctx, a.peer.NodeID); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	records := a.lister.List(a.shareDir)
	now := time.Now().Unix()
	current := make(map[string]struct{}, len(records))
	var errs []error

	for _, r := range records {
		current[r.ContentDigest] = struct{}{}
		err := a.registry.PutFile(ctx, &dynamodb.FileAvailability{
			ContentDigest: r.ContentDigest,
			NodeID:        a.peer.NodeID,
			Name:          r.DisplayName,
			Size:          r.SizeBytes,
			ModifiedAt:    r.ModifiedAt.Unix(),
			AdvertisedAt:  now,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("advertise %s: %w", r.DisplayName, err))
		}
	}

	for digest := range a.advertised {
		if _, ok := current[digest]; ok {
			continue
		}
		if err := a.registry.DeleteFile(ctx, digest, a.peer.NodeID); err != nil {
			errs = append(errs, fmt.Errorf("withdraw %s: %w", digest, err))
			// keep it so the next round retries the delete
			current[digest] = struct{}{}
			continue
		}
		a.log.Debug("withdrew file", zap.String("hash", digest))
	}
	a.advertised = current

	removed, err := a.registry.PruneStalePeers(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("prune peers: %w", err))
	} else if len(removed) > 0 {
		a.log.Info("pruned stale peers", zap.Strings("node_ids", removed))
	}

	return errors.Join(errs...)
}
