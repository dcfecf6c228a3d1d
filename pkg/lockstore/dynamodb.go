package lockstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI defines the DynamoDB operations used for lease management.
type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// leaseRecord represents a lease item in DynamoDB. The epoch attribute is
// never removed, only incremented, so fencing epochs stay monotonic across
// lease handoffs.
type leaseRecord struct {
	LockID     string `dynamodbav:"lock_id"`
	OwnerToken string `dynamodbav:"owner_token"`
	ExpiresAt  int64  `dynamodbav:"expires_at"`
	AcquiredAt int64  `dynamodbav:"acquired_at"`
	Epoch      int64  `dynamodbav:"epoch"`
}

// DynamoDBStore implements Store using conditional writes against a single
// lease item per key. Expiry is tracked with client-side timestamps; in
// multi-region deployments NTP synchronization bounds the clock skew.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDBStore creates a DynamoDBStore writing to the given table.
func NewDynamoDBStore(client DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

// Acquire implements Store. A single UpdateItem both claims the lease and
// advances the epoch; ALL_NEW returns the epoch this acquisition was issued.
func (s *DynamoDBStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (int64, bool, error) {
	now := time.Now()

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"lock_id": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: aws.String(
			"SET owner_token = :token, expires_at = :expires, acquired_at = :acquired ADD epoch :one",
		),
		ConditionExpression: aws.String(
			"attribute_not_exists(lock_id) OR expires_at < :acquired",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token":    &types.AttributeValueMemberS{Value: token},
			":expires":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(ttl).UnixMilli())},
			":acquired": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.UnixMilli())},
			":one":      &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccfe *types.ConditionalCheckFailedException
		if errors.As(err, &ccfe) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("dynamodb: acquire lease %s: %w", key, err)
	}

	var record leaseRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &record); err != nil {
		return 0, false, fmt.Errorf("dynamodb: unmarshal lease record: %w", err)
	}

	return record.Epoch, true, nil
}

// Renew implements Store.
func (s *DynamoDBStore) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := time.Now()

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"lock_id": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: aws.String("SET expires_at = :expires"),
		ConditionExpression: aws.String(
			"owner_token = :token AND expires_at > :now",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token":   &types.AttributeValueMemberS{Value: token},
			":expires": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(ttl).UnixMilli())},
			":now":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.UnixMilli())},
		},
	})
	if err != nil {
		var ccfe *types.ConditionalCheckFailedException
		if errors.As(err, &ccfe) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb: renew lease %s: %w", key, err)
	}

	return true, nil
}

// Release implements Store. The lease is expired rather than deleted so the
// epoch attribute survives for the next acquisition.
func (s *DynamoDBStore) Release(ctx context.Context, key, token string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"lock_id": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET expires_at = :zero"),
		ConditionExpression: aws.String("owner_token = :token"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":  &types.AttributeValueMemberN{Value: "0"},
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		var ccfe *types.ConditionalCheckFailedException
		if errors.As(err, &ccfe) {
			return nil
		}
		return fmt.Errorf("dynamodb: release lease %s: %w", key, err)
	}

	return nil
}

// Compile-time interface check.
var _ Store = (*DynamoDBStore)(nil)
