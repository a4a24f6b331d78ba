package dynamodb

import (
	"context"
	"time"
)

// Registry binds a Client to the peer and file availability tables.
type Registry struct {
	client     *Client
	peerTable  string
	fileTable  string
	staleAfter time.Duration
}

func NewRegistry(client *Client, peerTable, fileTable string, staleAfter time.Duration) *Registry {
	return &Registry{
		client:     client,
		peerTable:  peerTable,
		fileTable:  fileTable,
		staleAfter: staleAfter,
	}
}

func (r *Registry) RegisterPeer(ctx context.Context, peer *PeerInfo) error {
	return r.client.RegisterPeer(ctx, r.peerTable, peer)
}

func (r *Registry) Heartbeat(ctx context.Context, nodeID string) error {
	return r.client.UpdateHeartbeat(ctx, r.peerTable, nodeID)
}

func (r *Registry) PruneStalePeers(ctx context.Context) ([]string, error) {
	return r.client.PruneStalePeers(ctx, r.peerTable, r.staleAfter)
}

func (r *Registry) PutFile(ctx context.Context, fa *FileAvailability) error {
	return r.client.PutFileAvailability(ctx, r.fileTable, fa)
}

func (r *Registry) DeleteFile(ctx context.Context, digest, nodeID string) error {
	return r.client.DeleteFileAvailability(ctx, r.fileTable, digest, nodeID)
}

// ListPeers returns peers with a recent heartbeat.
func (r *Registry) ListPeers(ctx context.Context) ([]*PeerInfo, error) {
	return r.client.ListPeers(ctx, r.peerTable, r.staleAfter)
}

// FileHolders returns the nodes advertising digest.
func (r *Registry) FileHolders(ctx context.Context, digest string) ([]*FileAvailability, error) {
	return r.client.ListFileAvailability(ctx, r.fileTable, digest)
}
