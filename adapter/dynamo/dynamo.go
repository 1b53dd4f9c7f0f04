// Package dynamo stores serialized database images in a DynamoDB table.
//
// Images larger than a single item allows are split into numbered chunks
// under the same partition key, with a zero-numbered meta item recording the
// chunk count.
//
// Table schema:
//   - Partition key: db (string) - the database name
//   - Sort key: chunk (number) - 0 for the meta item, 1..n for data chunks
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name docgo \
//	  --attribute-definitions AttributeName=db,AttributeType=S AttributeName=chunk,AttributeType=N \
//	  --key-schema AttributeName=db,KeyType=HASH AttributeName=chunk,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/docgo/adapter"
)

// DynamoDB items cap at 400KB; leave headroom for keys and overhead.
const chunkSize = 350 * 1024

// Client is the interface for DynamoDB operations, satisfied by
// *dynamodb.Client and by mocks in tests.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Adapter persists each database as a chunked item group in one table.
type Adapter struct {
	client Client
	table  string
}

// New loads the default AWS configuration and returns an adapter for table.
func New(ctx context.Context, table string) (*Adapter, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewWithClient(dynamodb.NewFromConfig(cfg), table), nil
}

// NewWithClient returns an adapter using a caller-supplied client.
func NewWithClient(client Client, table string) *Adapter {
	return &Adapter{client: client, table: table}
}

// Save splits the image into chunks and writes them, meta item last so a
// reader never sees a count pointing at chunks that are not there yet.
func (a *Adapter) Save(ctx context.Context, name string, data []byte) error {
	var count int
	for off := 0; off < len(data) || count == 0; off += chunkSize {
		end := min(off+chunkSize, len(data))
		count++
		_, err := a.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(a.table),
			Item: map[string]types.AttributeValue{
				"db":    &types.AttributeValueMemberS{Value: name},
				"chunk": &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
				"data":  &types.AttributeValueMemberB{Value: data[off:end]},
			},
		})
		if err != nil {
			return fmt.Errorf("put chunk %d: %w", count, err)
		}
	}

	_, err := a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.table),
		Item: map[string]types.AttributeValue{
			"db":     &types.AttributeValueMemberS{Value: name},
			"chunk":  &types.AttributeValueMemberN{Value: "0"},
			"chunks": &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
			"size":   &types.AttributeValueMemberN{Value: strconv.Itoa(len(data))},
		},
	})
	if err != nil {
		return fmt.Errorf("put meta item: %w", err)
	}
	return nil
}

// Load queries the item group and reassembles the image, verifying chunk
// count and total size against the meta item.
func (a *Adapter) Load(ctx context.Context, name string) ([]byte, error) {
	var (
		items            []map[string]types.AttributeValue
		lastEvaluatedKey map[string]types.AttributeValue
	)
	for {
		resp, err := a.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(a.table),
			KeyConditionExpression: aws.String("db = :name"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":name": &types.AttributeValueMemberS{Value: name},
			},
			ExclusiveStartKey: lastEvaluatedKey,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, resp.Items...)
		if resp.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = resp.LastEvaluatedKey
	}

	if len(items) == 0 {
		return nil, adapter.ErrNotFound
	}

	var (
		count, size int
		chunks      = map[int][]byte{}
	)
	for _, item := range items {
		n, err := itemNumber(item, "chunk")
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if count, err = itemNumber(item, "chunks"); err != nil {
				return nil, err
			}
			if size, err = itemNumber(item, "size"); err != nil {
				return nil, err
			}
			continue
		}
		b, ok := item["data"].(*types.AttributeValueMemberB)
		if !ok {
			return nil, fmt.Errorf("chunk %d: missing data attribute", n)
		}
		chunks[n] = b.Value
	}

	if count == 0 {
		return nil, adapter.ErrNotFound
	}

	data := make([]byte, 0, size)
	for n := 1; n <= count; n++ {
		b, ok := chunks[n]
		if !ok {
			return nil, fmt.Errorf("incomplete image: chunk %d of %d missing", n, count)
		}
		data = append(data, b...)
	}
	if len(data) != size {
		return nil, fmt.Errorf("incomplete image: got %d bytes, meta says %d", len(data), size)
	}
	return data, nil
}

// Delete removes the meta item and every chunk.
func (a *Adapter) Delete(ctx context.Context, name string) error {
	resp, err := a.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.table),
		KeyConditionExpression: aws.String("db = :name"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
		ProjectionExpression: aws.String("db, chunk"),
	})
	if err != nil {
		return err
	}
	for _, item := range resp.Items {
		_, err := a.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(a.table),
			Key: map[string]types.AttributeValue{
				"db":    item["db"],
				"chunk": item["chunk"],
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func itemNumber(item map[string]types.AttributeValue, attr string) (int, error) {
	n, ok := item[attr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("invalid " + attr + " attribute")
	}
	return strconv.Atoi(n.Value)
}
