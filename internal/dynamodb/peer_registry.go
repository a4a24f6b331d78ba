package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const StatusActive = "active"

type PeerInfo struct {
	NodeID      string `dynamodbav:"node_id" json:"node_id"`
	Address     string `dynamodbav:"address" json:"address"`
	PeerPort    int    `dynamodbav:"peer_port" json:"peer_port"`
	HTTPPort    int    `dynamodbav:"http_port,omitempty" json:"http_port,omitempty"`
	HeartbeatTS int64  `dynamodbav:"heartbeat_ts" json:"heartbeat_ts"`
	Status      string `dynamodbav:"status" json:"status"`
}

func (c *Client) RegisterPeer(ctx context.Context, tableName string, peer *PeerInfo) error {
	peer.HeartbeatTS = time.Now().Unix()
	peer.Status = StatusActive

	item, err := attributevalue.MarshalMap(peer)
	if err != nil {
		return fmt.Errorf("failed to marshal peer info: %w", err)
	}

	_, err = c.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to register peer: %w", err)
	}

	return nil
}

func (c *Client) UpdateHeartbeat(ctx context.Context, tableName string, nodeID string) error {
	heartbeatTS := time.Now().Unix()

	_, err := c.svc.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			"node_id": &types.AttributeValueMemberS{Value: nodeID},
		},
		UpdateExpression: aws.String("SET heartbeat_ts = :ts, #status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", heartbeatTS)},
			":status": &types.AttributeValueMemberS{Value: StatusActive},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	return nil
}

// ListPeers returns every active peer whose heartbeat is newer than
// staleAfter. A zero staleAfter returns every active peer.
func (c *Client) ListPeers(ctx context.Context, tableName string, staleAfter time.Duration) ([]*PeerInfo, error) {
	all, err := c.scanPeers(ctx, tableName)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-staleAfter).Unix()
	peers := make([]*PeerInfo, 0, len(all))
	for _, p := range all {
		if p.Status != StatusActive {
			continue
		}
		if staleAfter > 0 && p.HeartbeatTS < cutoff {
			continue
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// PruneStalePeers deletes peers whose last heartbeat is older than
// staleAfter, mirroring the tracker's idle-peer cleanup. It returns the ids
// removed.
func (c *Client) PruneStalePeers(ctx context.Context, tableName string, staleAfter time.Duration) ([]string, error) {
	all, err := c.scanPeers(ctx, tableName)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-staleAfter).Unix()
	var removed []string
	for _, p := range all {
		if p.HeartbeatTS >= cutoff {
			continue
		}
		_, err := c.svc.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(tableName),
			Key: map[string]types.AttributeValue{
				"node_id": &types.AttributeValueMemberS{Value: p.NodeID},
			},
		})
		if err != nil {
			return removed, fmt.Errorf("failed to delete stale peer %s: %w", p.NodeID, err)
		}
		removed = append(removed, p.NodeID)
	}
	return removed, nil
}

func (c *Client) scanPeers(ctx context.Context, tableName string) ([]*PeerInfo, error) {
	var peers []*PeerInfo
	paginator := dynamodb.NewScanPaginator(c.svc, &dynamodb.ScanInput{
		TableName: aws.String(tableName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan peers: %w", err)
		}
		for _, item := range page.Items {
			var peer PeerInfo
			if err := attributevalue.UnmarshalMap(item, &peer); err != nil {
				continue
			}
			peers = append(peers, &peer)
		}
	}
	return peers, nil
}
