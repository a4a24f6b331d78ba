package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// FileAvailability records that a node shares a file with the given content
// digest. Keyed by content_digest (hash) and node_id (range).
type FileAvailability struct {
	ContentDigest string `dynamodbav:"content_digest" json:"hash"`
	NodeID        string `dynamodbav:"node_id" json:"node_id"`
	Name          string `dynamodbav:"name" json:"name"`
	Size          uint64 `dynamodbav:"size" json:"size"`
	ModifiedAt    int64  `dynamodbav:"modified_at" json:"modified_at"`
	AdvertisedAt  int64  `dynamodbav:"advertised_at" json:"advertised_at"`
}

func (c *Client) PutFileAvailability(ctx context.Context, tableName string, fa *FileAvailability) error {
	item, err := attributevalue.MarshalMap(fa)
	if err != nil {
		return fmt.Errorf("failed to marshal file availability: %w", err)
	}

	_, err = c.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put file availability: %w", err)
	}

	return nil
}

// ListFileAvailability returns every node advertising digest.
func (c *Client) ListFileAvailability(ctx context.Context, tableName string, digest string) ([]*FileAvailability, error) {
	var holders []*FileAvailability
	paginator := dynamodb.NewQueryPaginator(c.svc, &dynamodb.QueryInput{
		TableName:              aws.String(tableName),
		KeyConditionExpression: aws.String("content_digest = :digest"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":digest": &types.AttributeValueMemberS{Value: digest},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query file availability: %w", err)
		}
		for _, item := range page.Items {
			var fa FileAvailability
			if err := attributevalue.UnmarshalMap(item, &fa); err != nil {
				continue
			}
			holders = append(holders, &fa)
		}
	}
	return holders, nil
}

func (c *Client) DeleteFileAvailability(ctx context.Context, tableName string, digest, nodeID string) error {
	_, err := c.svc.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			"content_digest": &types.AttributeValueMemberS{Value: digest},
			"node_id":        &types.AttributeValueMemberS{Value: nodeID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete file availability: %w", err)
	}

	return nil
}
