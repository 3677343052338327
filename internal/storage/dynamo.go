package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/vmorsell/headsetd/pkg/model"
	"go.uber.org/zap"
)

const (
	partitionKey = "pk"

	documentKeyMemory = "memory"

	dynamoDBOperationTimeout = 5 * time.Second
)

// DynamoAPI is the subset of the DynamoDB client used here.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type memoryItem struct {
	CurrentDevice string                   `dynamodbav:"currentDev"`
	Battery       string                   `dynamodbav:"battery"`
	Profiles      map[string]model.Profile `dynamodbav:"profiles"`
	SavedAt       int64                    `dynamodbav:"savedAt"`
}

// DynamoStorage keeps the snapshot as a single item. Writes carry a
// timestamp and older snapshots never overwrite newer ones.
type DynamoStorage struct {
	logger    *zap.Logger
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

func NewDynamoStorage(logger *zap.Logger, client DynamoAPI, tableName string) *DynamoStorage {
	return &DynamoStorage{
		logger:    logger,
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// OpenDynamoStorage builds a client from the default AWS config chain.
func OpenDynamoStorage(ctx context.Context, logger *zap.Logger, tableName, region string) (*DynamoStorage, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewDynamoStorage(logger, dynamodb.NewFromConfig(cfg), tableName), nil
}

func (s *DynamoStorage) Load(ctx context.Context) (model.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, dynamoDBOperationTimeout)
	defer cancel()

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		ConsistentRead: aws.Bool(true),
		Key:            s.memoryKey(),
	})
	if err != nil {
		return model.DefaultMemory(), fmt.Errorf("get memory item: %w", err)
	}

	if len(result.Item) == 0 {
		return model.DefaultMemory(), ErrItemNotFound
	}

	var item memoryItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return model.DefaultMemory(), fmt.Errorf("unmarshal memory item: %w", err)
	}

	mem := model.DefaultMemory()
	if item.CurrentDevice != "" {
		mem.CurrentDevice = item.CurrentDevice
	}
	if item.Battery != "" {
		mem.Battery = item.Battery
	}
	for k, v := range item.Profiles {
		mem.Profiles[k] = v
	}
	return mem, nil
}

func (s *DynamoStorage) Save(ctx context.Context, mem model.Memory) error {
	ctx, cancel := context.WithTimeout(ctx, dynamoDBOperationTimeout)
	defer cancel()

	savedAt := s.now().UnixNano()
	item, err := attributevalue.MarshalMap(memoryItem{
		CurrentDevice: mem.CurrentDevice,
		Battery:       mem.Battery,
		Profiles:      mem.Profiles,
		SavedAt:       savedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal memory item: %w", err)
	}
	item[partitionKey] = &types.AttributeValueMemberS{Value: documentKeyMemory}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(savedAt) OR savedAt < :savedAt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":savedAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(savedAt, 10)},
		},
	})
	if err != nil {
		var condCheckErr *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckErr) {
			s.logger.Debug("newer snapshot already stored, dropping write")
			return nil
		}
		return fmt.Errorf("put memory item: %w", err)
	}
	return nil
}

func (s *DynamoStorage) memoryKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		partitionKey: &types.AttributeValueMemberS{Value: documentKeyMemory},
	}
}
