package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// DynamoConnector is the persistent cache layer: durable ABI/source
// storage across process restarts. Every row is (pk=partition#key, data,
// optional expiresAt).
type DynamoConnector struct {
	db    *dynamodb.DynamoDB
	table string
}

func NewDynamoConnector(sess *session.Session, table string) *DynamoConnector {
	return &DynamoConnector{db: dynamodb.New(sess), table: table}
}

func dynamoPK(key, partition string) string { return partition + "#" + key }

func (d *DynamoConnector) Get(ctx context.Context, _, key, partition string) ([]byte, error) {
	out, err := d.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(dynamoPK(key, partition))},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	if exp, ok := out.Item["expiresAt"]; ok && exp.N != nil {
		if expSec, err := strconv.ParseInt(*exp.N, 10, 64); err == nil && expSec > 0 && expSec < time.Now().Unix() {
			return nil, ErrNotFound
		}
	}
	data, ok := out.Item["data"]
	if !ok || data.B == nil {
		return nil, ErrNotFound
	}
	return data.B, nil
}

func (d *DynamoConnector) Set(ctx context.Context, key, partition string, value []byte, ttl *time.Duration) error {
	item := map[string]*dynamodb.AttributeValue{
		"pk":   {S: aws.String(dynamoPK(key, partition))},
		"data": {B: value},
	}
	if ttl != nil {
		exp := time.Now().Add(*ttl).Unix()
		item["expiresAt"] = &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(exp, 10))}
	}
	_, err := d.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	return err
}

func (d *DynamoConnector) Delete(ctx context.Context, key, partition string) error {
	_, err := d.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(dynamoPK(key, partition))},
		},
	})
	return err
}
