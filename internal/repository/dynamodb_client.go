package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-widget/internal/domain"
)

const (
	skPrefixMsg  = "MSG#"
	skPrefixMeta = "META#"
	skSeq        = "SEQ"
	batchSize    = 25
	tableWaitMax = 2 * time.Minute
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoBackend.
// Defined here for testability.
type dynamodbAPI interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoBackend stores one profile's message log in a single partition of a
// DynamoDB table. Message ids come from an atomic counter item that survives
// Clear.
type DynamoBackend struct {
	api       dynamodbAPI
	tableName string
	profile   string
}

// NewDynamoBackend creates a backend for the given table and profile partition.
func NewDynamoBackend(api dynamodbAPI, tableName, profile string) (*DynamoBackend, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(profile) == "" {
		return nil, errors.New("repository: profile must not be empty")
	}
	return &DynamoBackend{api: api, tableName: tableName, profile: strings.TrimSpace(profile)}, nil
}

// profilePK returns the partition key for a profile.
func profilePK(profile string) string {
	return "PROFILE#" + profile
}

// msgSK zero-pads the id so lexical sort key order matches numeric order.
func msgSK(id int64) string {
	return fmt.Sprintf("%s%020d", skPrefixMsg, id)
}

func metaSK(key string) string {
	return skPrefixMeta + key
}

// Open checks that the table exists and creates it when it does not.
func (b *DynamoBackend) Open(ctx context.Context) error {
	_, err := b.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.tableName)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("repository: describe table: %w", err)
	}

	_, err = b.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(b.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("repository: create table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(b.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.tableName)}, tableWaitMax); err != nil {
		return fmt.Errorf("repository: wait for table: %w", err)
	}
	return nil
}

// Insert allocates the next id and writes the message under it.
func (b *DynamoBackend) Insert(ctx context.Context, role domain.Role, content string, kind domain.Kind) (int64, error) {
	id, err := b.nextID(ctx)
	if err != nil {
		return 0, err
	}

	_, err = b.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(b.tableName),
		Item:                messageItem(b.profile, domain.Message{ID: id, Role: role, Content: content, Kind: kind}),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: Insert: %w", err)
	}
	return id, nil
}

func (b *DynamoBackend) nextID(ctx context.Context) (int64, error) {
	out, err := b.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(b.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: profilePK(b.profile)},
			"SK": &types.AttributeValueMemberS{Value: skSeq},
		},
		UpdateExpression: aws.String("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("repository: allocate id: %w", err)
	}
	if out == nil {
		return 0, errors.New("repository: allocate id: empty response")
	}
	id, err := intAttr(out.Attributes, "seq")
	if err != nil {
		return 0, fmt.Errorf("repository: allocate id: %w", err)
	}
	return id, nil
}

// List queries all MSG# items of the profile in ascending id order.
func (b *DynamoBackend) List(ctx context.Context) ([]domain.Message, error) {
	items, err := b.queryPrefix(ctx, skPrefixMsg, false)
	if err != nil {
		return nil, fmt.Errorf("repository: List: %w", err)
	}
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: List unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Clear deletes every message and metadata item of the profile. The id
// counter is kept.
func (b *DynamoBackend) Clear(ctx context.Context) error {
	var keys []map[string]types.AttributeValue
	for _, prefix := range []string{skPrefixMsg, skPrefixMeta} {
		items, err := b.queryPrefix(ctx, prefix, true)
		if err != nil {
			return fmt.Errorf("repository: Clear: %w", err)
		}
		for _, item := range items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
	}

	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
		}
		out, err := b.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{b.tableName: reqs},
		})
		if err != nil {
			return fmt.Errorf("repository: Clear batch delete: %w", err)
		}
		if out != nil && len(out.UnprocessedItems[b.tableName]) > 0 {
			return fmt.Errorf("repository: Clear: %d items left unprocessed", len(out.UnprocessedItems[b.tableName]))
		}
	}
	return nil
}

func (b *DynamoBackend) PutMeta(ctx context.Context, key, value string) error {
	_, err := b.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item: map[string]types.AttributeValue{
			"PK":    &types.AttributeValueMemberS{Value: profilePK(b.profile)},
			"SK":    &types.AttributeValueMemberS{Value: metaSK(key)},
			"value": &types.AttributeValueMemberS{Value: value},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutMeta: %w", err)
	}
	return nil
}

func (b *DynamoBackend) GetMeta(ctx context.Context, key string) (string, bool, error) {
	out, err := b.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: profilePK(b.profile)},
			"SK": &types.AttributeValueMemberS{Value: metaSK(key)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("repository: GetMeta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	v, err := strAttr(out.Item, "value")
	if err != nil {
		return "", false, fmt.Errorf("repository: GetMeta: %w", err)
	}
	return v, true, nil
}

func (b *DynamoBackend) Close() error { return nil }

// queryPrefix pages through every item of the profile whose sort key starts
// with prefix.
func (b *DynamoBackend) queryPrefix(ctx context.Context, prefix string, keysOnly bool) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(b.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: profilePK(b.profile)},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}
	if keysOnly {
		in.ProjectionExpression = aws.String("PK, SK")
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := b.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", prefix, err)
		}
		if out == nil {
			break
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return items, nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := intAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	kind, _ := strAttr(item, "kind") // allow empty
	if kind == "" {
		kind = string(domain.KindContent)
	}

	return domain.Message{
		ID:      id,
		Role:    domain.Role(role),
		Content: content,
		Kind:    domain.Kind(kind),
	}, nil
}

func messageItem(profile string, msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: profilePK(profile)},
		"SK":      &types.AttributeValueMemberS{Value: msgSK(msg.ID)},
		"id":      &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.ID, 10)},
		"role":    &types.AttributeValueMemberS{Value: string(msg.Role)},
		"content": &types.AttributeValueMemberS{Value: msg.Content},
		"kind":    &types.AttributeValueMemberS{Value: string(msg.Kind)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
