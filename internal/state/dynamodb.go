package state

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore keeps state in a DynamoDB table keyed by PK.
type DynamoStore struct {
	api   dynamodbAPI
	table string
}

// NewDynamoStore creates a DynamoStore on table.
func NewDynamoStore(api dynamodbAPI, table string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("state: dynamodb api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("state: dynamodb table name must not be empty")
	}
	return &DynamoStore{api: api, table: table}, nil
}

func (s *DynamoStore) Get(ctx context.Context, botUsername string, chatID int64) (*ConversationState, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: Key(botUsername, chatID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, persistErr(err, "dynamodb get")
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	attr, ok := out.Item["state"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, persistErr(errors.New("item has no state attribute"), "dynamodb get")
	}
	return decode([]byte(attr.Value))
}

func (s *DynamoStore) Put(ctx context.Context, st *ConversationState) error {
	data, err := encode(st)
	if err != nil {
		return persistErr(err, "encode")
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: st.Key()},
			"bot_username": &types.AttributeValueMemberS{Value: st.BotUsername},
			"chat_id":      &types.AttributeValueMemberN{Value: strconv.FormatInt(st.ChatID, 10)},
			"step":         &types.AttributeValueMemberS{Value: string(st.Step)},
			"state":        &types.AttributeValueMemberS{Value: string(data)},
		},
	})
	if err != nil {
		return persistErr(err, "dynamodb put")
	}
	return nil
}
