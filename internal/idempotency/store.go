package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-commerce-erpsync/internal/aws"
)

// DynamoStore keeps markers in a DynamoDB table keyed by marker_key.
// The conditional put gives the (object_key, stage) uniqueness constraint.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore returns a DynamoDB-backed marker store.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create writes the marker only if attribute_not_exists(marker_key).
// Returns (true, nil) if created, (false, nil) if it already existed.
func (s *DynamoStore) Create(ctx context.Context, key Key, value string) (bool, error) {
	m := Marker{
		MarkerKey: key.String(),
		ObjectKey: key.Object,
		Stage:     key.Stage,
		Value:     value,
		CreatedAt: s.nowFunc().UTC(),
	}
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return false, fmt.Errorf("marshal marker: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(marker_key)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Get retrieves a marker. If not found, returns (nil, nil).
func (s *DynamoStore) Get(ctx context.Context, key Key) (*Marker, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"marker_key": &types.AttributeValueMemberS{Value: key.String()},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var m Marker
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("unmarshal marker: %w", err)
	}
	return &m, nil
}

// Delete removes a marker. Only used for manual intervention.
func (s *DynamoStore) Delete(ctx context.Context, key Key) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"marker_key": &types.AttributeValueMemberS{Value: key.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
