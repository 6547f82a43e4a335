package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"serverless-chat/internal/domain"
)

const (
	// usernameIndex is the GSI on the participants table keyed by Username,
	// used to find every conversation a user belongs to.
	usernameIndex = "Username-ConversationId-index"

	// batchWriteAttempts bounds resubmission of unprocessed batch items.
	batchWriteAttempts = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client wraps the two chat tables: participant records keyed by
// (ConversationId, Username) and messages keyed by (ConversationId, Timestamp).
type Client struct {
	api                dynamodbAPI
	conversationsTable string
	messagesTable      string
}

// New creates a new repository Client.
func New(api dynamodbAPI, conversationsTable, messagesTable string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(conversationsTable) == "" {
		return nil, errors.New("repository: conversations table name must not be empty")
	}
	if strings.TrimSpace(messagesTable) == "" {
		return nil, errors.New("repository: messages table name must not be empty")
	}
	return &Client{api: api, conversationsTable: conversationsTable, messagesTable: messagesTable}, nil
}

// queryAll drains a paginated query: it re-issues in with the continuation
// key from each response until the store reports no further pages, and
// returns every item in store order. Any page error aborts the drain with
// no partial result.
func (c *Client) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: query %s: %w", aws.ToString(in.TableName), err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// ConversationIDsForUser returns the ids of every conversation the user
// participates in, via the username GSI. The index is eventually consistent:
// a just-created conversation may not appear yet. Order is the index's
// natural return order.
func (c *Client) ConversationIDsForUser(ctx context.Context, username string) ([]string, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.conversationsTable),
		IndexName:              aws.String(usernameIndex),
		KeyConditionExpression: aws.String("Username = :username"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":username": &types.AttributeValueMemberS{Value: username},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ConversationIDsForUser: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := strAttr(item, "ConversationId")
		if err != nil {
			return nil, fmt.Errorf("repository: ConversationIDsForUser: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Participants returns the full roster of a conversation.
func (c *Client) Participants(ctx context.Context, conversationID string) ([]string, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.conversationsTable),
		KeyConditionExpression: aws.String("ConversationId = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: conversationID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Participants: %w", err)
	}

	participants := make([]string, 0, len(items))
	for _, item := range items {
		name, err := strAttr(item, "Username")
		if err != nil {
			return nil, fmt.Errorf("repository: Participants: %w", err)
		}
		participants = append(participants, name)
	}
	return participants, nil
}

// Messages returns the complete message timeline of a conversation in
// ascending timestamp order (the table's native sort order; no client-side
// re-sort is performed).
func (c *Client) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(c.messagesTable),
		ProjectionExpression:     aws.String("#T, Sender, Message"),
		ExpressionAttributeNames: map[string]string{"#T": "Timestamp"},
		KeyConditionExpression:   aws.String("ConversationId = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: conversationID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Messages: %w", err)
	}

	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(conversationID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: Messages: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// LastMessageTime returns the timestamp of the most recent message in a
// conversation, or nil when the conversation has no messages.
func (c *Client) LastMessageTime(ctx context.Context, conversationID string) (*int64, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(c.messagesTable),
		ProjectionExpression:     aws.String("#T"),
		ExpressionAttributeNames: map[string]string{"#T": "Timestamp"},
		KeyConditionExpression:   aws.String("ConversationId = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: conversationID},
		},
		// Newest first, single item: the head of the reversed timeline.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LastMessageTime: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	ts, err := int64Attr(out.Items[0], "Timestamp")
	if err != nil {
		return nil, fmt.Errorf("repository: LastMessageTime: %w", err)
	}
	return &ts, nil
}

// PutMessage persists one message record. The write is an upsert: two
// messages for the same conversation within the same millisecond collide on
// the sort key and the later write wins.
func (c *Client) PutMessage(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID == "" || msg.Sender == "" {
		return errors.New("repository: PutMessage: conversation id and sender are required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.messagesTable),
		Item: map[string]types.AttributeValue{
			"ConversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
			"Timestamp":      &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.Timestamp, 10)},
			"Sender":         &types.AttributeValueMemberS{Value: msg.Sender},
			"Message":        &types.AttributeValueMemberS{Value: msg.Body},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutMessage: %w", err)
	}
	return nil
}

// CreateParticipants writes one participant record per username as a single
// batch. The batch is not transactional: on failure some records may already
// be written and are not rolled back. Unprocessed items are resubmitted a
// bounded number of times before the remainder is surfaced as an error.
func (c *Client) CreateParticipants(ctx context.Context, conversationID string, usernames []string) error {
	if conversationID == "" {
		return errors.New("repository: CreateParticipants: conversation id is required")
	}
	if len(usernames) == 0 {
		return errors.New("repository: CreateParticipants: at least one username is required")
	}

	requests := make([]types.WriteRequest, 0, len(usernames))
	for _, username := range usernames {
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{
				Item: map[string]types.AttributeValue{
					"ConversationId": &types.AttributeValueMemberS{Value: conversationID},
					"Username":       &types.AttributeValueMemberS{Value: username},
				},
			},
		})
	}

	for attempt := 0; attempt < batchWriteAttempts; attempt++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				c.conversationsTable: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("repository: CreateParticipants: %w", err)
		}
		remaining := out.UnprocessedItems[c.conversationsTable]
		if len(remaining) == 0 {
			return nil
		}
		requests = remaining
	}
	return fmt.Errorf("repository: CreateParticipants: %d participant records unprocessed after %d attempts", len(requests), batchWriteAttempts)
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(conversationID string, item map[string]types.AttributeValue) (domain.Message, error) {
	ts, err := int64Attr(item, "Timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "Sender")
	if err != nil {
		return domain.Message{}, err
	}
	body, err := strAttr(item, "Message")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ConversationID: conversationID,
		Timestamp:      ts,
		Sender:         sender,
		Body:           body,
	}, nil
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

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
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
