package services

import (
	"chatbot/logger"
	"chatbot/models"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DynamoConversationStore は会話ログをSessionID + Timestampで保存する
type DynamoConversationStore struct {
	db    *dynamodb.Client
	table string
	log   *logger.Logger
}

type DynamoOptions struct {
	Endpoint string
	Region   string
}

func NewDynamoDBClient(ctx context.Context, opts DynamoOptions) (*dynamodb.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.Endpoint != "" {
		// ローカルのDynamoDBに接続する
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: opts.Endpoint}, nil
		})
		loadOpts = append(loadOpts,
			config.WithEndpointResolverWithOptions(customResolver),
			config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
				Value: aws.Credentials{
					AccessKeyID: "dummy", SecretAccessKey: "dummy", SessionToken: "dummy",
				},
			}),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func NewDynamoConversationStore(ctx context.Context, db *dynamodb.Client, table string, log *logger.Logger) *DynamoConversationStore {
	s := &DynamoConversationStore{db: db, table: table, log: log.With("service", "DynamoConversationStore")}
	s.ensureTableExists(ctx)
	return s
}

func (s *DynamoConversationStore) ensureTableExists(ctx context.Context) {
	_, err := s.db.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("SessionID"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("Timestamp"),
				AttributeType: types.ScalarAttributeTypeS, // RFC3339Nano形式で保存
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("SessionID"),
				KeyType:       types.KeyTypeHash, // パーティションキー
			},
			{
				AttributeName: aws.String("Timestamp"),
				KeyType:       types.KeyTypeRange, // ソートキー
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		s.log.Debug("table might already exist", "table", s.table, "error", err)
	}
}

func (s *DynamoConversationStore) SaveMessage(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Timestamp.IsZero() {
		conv.Timestamp = time.Now().UTC()
	}

	item := map[string]types.AttributeValue{
		"ID":        &types.AttributeValueMemberS{Value: conv.ID},
		"SessionID": &types.AttributeValueMemberS{Value: conv.SessionID},
		"SiteID":    &types.AttributeValueMemberS{Value: conv.SiteID},
		"Role":      &types.AttributeValueMemberS{Value: string(conv.Role)},
		"Content":   &types.AttributeValueMemberS{Value: conv.Content},
		"Timestamp": &types.AttributeValueMemberS{Value: FormatTimestamp(conv.Timestamp)},
	}
	if conv.SourceURL != "" {
		item["SourceURL"] = &types.AttributeValueMemberS{Value: conv.SourceURL}
	}

	_, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return models.Conversation{}, errors.Wrap(err, "put conversation")
	}
	return conv, nil
}

// GetRecentConversations returns the latest limit turns, oldest first.
func (s *DynamoConversationStore) GetRecentConversations(ctx context.Context, sessionID string, limit int) ([]models.Conversation, error) {
	result, err := s.db.Query(ctx, recentQueryInput(s.table, sessionID, limit))
	if err != nil {
		return nil, errors.Wrap(err, "query recent conversations")
	}

	conversations := itemsToConversations(result.Items)
	// 会話順（古い順）に戻す
	for i, j := 0, len(conversations)-1; i < j; i, j = i+1, j-1 {
		conversations[i], conversations[j] = conversations[j], conversations[i]
	}
	return conversations, nil
}

// recentQueryInput は新しい順に取得する。limitが0以下なら全件
func recentQueryInput(table, sessionID string, limit int) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("SessionID = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	return in
}

func (s *DynamoConversationStore) GetAllConversations(ctx context.Context, sessionID string) ([]models.Conversation, error) {
	result, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("SessionID = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		ScanIndexForward: aws.Bool(true), // 古い順に並び替え
	})
	if err != nil {
		return nil, errors.Wrap(err, "query conversations")
	}
	return itemsToConversations(result.Items), nil
}

func (s *DynamoConversationStore) UpdateMessageFlag(ctx context.Context, sessionID, timestamp string, isLiked, isDisliked *bool) error {
	// 更新フィールドを構築
	updateExpression := "SET"
	expressionAttributeValues := map[string]types.AttributeValue{}
	expressionAttributeNames := map[string]string{}

	if isLiked != nil {
		updateExpression += " #isLiked = :isLiked,"
		expressionAttributeValues[":isLiked"] = &types.AttributeValueMemberBOOL{Value: *isLiked}
		expressionAttributeNames["#isLiked"] = "isLiked"
	}
	if isDisliked != nil {
		updateExpression += " #isDisliked = :isDisliked,"
		expressionAttributeValues[":isDisliked"] = &types.AttributeValueMemberBOOL{Value: *isDisliked}
		expressionAttributeNames["#isDisliked"] = "isDisliked"
	}
	if len(expressionAttributeValues) == 0 {
		return nil
	}
	// 末尾のカンマを削除
	updateExpression = updateExpression[:len(updateExpression)-1]

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"SessionID": &types.AttributeValueMemberS{Value: sessionID},
			"Timestamp": &types.AttributeValueMemberS{Value: timestamp},
		},
		UpdateExpression:          aws.String(updateExpression),
		ExpressionAttributeValues: expressionAttributeValues,
		ExpressionAttributeNames:  expressionAttributeNames,
		ConditionExpression:       aws.String("attribute_exists(SessionID)"),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConversationNotFound
		}
		return errors.Wrap(err, "update message flag")
	}
	return nil
}

func itemsToConversations(items []map[string]types.AttributeValue) []models.Conversation {
	conversations := make([]models.Conversation, 0, len(items))
	for _, item := range items {
		timestamp, _ := ParseTimestamp(stringAttr(item, "Timestamp"))
		conv := models.Conversation{
			ID:        stringAttr(item, "ID"),
			SessionID: stringAttr(item, "SessionID"),
			SiteID:    stringAttr(item, "SiteID"),
			Role:      models.Role(stringAttr(item, "Role")),
			Content:   stringAttr(item, "Content"),
			SourceURL: stringAttr(item, "SourceURL"),
			Timestamp: timestamp,
		}
		if v, ok := item["isLiked"].(*types.AttributeValueMemberBOOL); ok {
			conv.IsLiked = aws.Bool(v.Value)
		}
		if v, ok := item["isDisliked"].(*types.AttributeValueMemberBOOL); ok {
			conv.IsDisliked = aws.Bool(v.Value)
		}
		conversations = append(conversations, conv)
	}
	return conversations
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
