package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"serverless-chat/internal/domain"
)

type fakeDynamo struct {
	queryOuts []*dynamodb.QueryOutput
	queryErr  error
	queryIns  []*dynamodb.QueryInput
	startKeys []map[string]types.AttributeValue

	putErr    error
	lastPutIn *dynamodb.PutItemInput

	batchOuts []*dynamodb.BatchWriteItemOutput
	batchErr  error
	batchIns  []*dynamodb.BatchWriteItemInput
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIns = append(f.queryIns, in)
	f.startKeys = append(f.startKeys, in.ExclusiveStartKey)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutIn = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchIns = append(f.batchIns, in)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if len(f.batchOuts) == 0 {
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	out := f.batchOuts[0]
	f.batchOuts = f.batchOuts[1:]
	return out, nil
}

func participantItem(conversationID, username string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ConversationId": &types.AttributeValueMemberS{Value: conversationID},
		"Username":       &types.AttributeValueMemberS{Value: username},
	}
}

func messageItem(ts int64, sender, body string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"Timestamp": &types.AttributeValueMemberN{Value: strconv.FormatInt(ts, 10)},
		"Sender":    &types.AttributeValueMemberS{Value: sender},
		"Message":   &types.AttributeValueMemberS{Value: body},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "Chat-Conversations", "Chat-Messages")
	require.NoError(t, err)
	return c
}

func TestNew_Validations(t *testing.T) {
	_, err := New(nil, "a", "b")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, " ", "b")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, "a", "")
	require.Error(t, err)
}

func TestConversationIDsForUser_DrainsAllPages(t *testing.T) {
	cursor := map[string]types.AttributeValue{
		"ConversationId": &types.AttributeValueMemberS{Value: "c2"},
	}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{participantItem("c1", "alice"), participantItem("c2", "alice")},
			LastEvaluatedKey: cursor,
		},
		{
			Items: []map[string]types.AttributeValue{participantItem("c3", "alice")},
		},
	}}
	c := mustNewClient(t, db)

	ids, err := c.ConversationIDsForUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2", "c3"}, ids)

	require.Len(t, db.queryIns, 2)
	require.Equal(t, usernameIndex, *db.queryIns[0].IndexName)
	require.Equal(t, "Username = :username", *db.queryIns[0].KeyConditionExpression)
	require.Nil(t, db.startKeys[0])
	require.Equal(t, cursor, db.startKeys[1])
}

func TestConversationIDsForUser_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)
	_, err := c.ConversationIDsForUser(context.Background(), "alice")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ConversationIDsForUser")
}

func TestConversationIDsForUser_MalformedItem(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{{"Username": &types.AttributeValueMemberS{Value: "alice"}}}},
	}}
	c := mustNewClient(t, db)
	_, err := c.ConversationIDsForUser(context.Background(), "alice")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ConversationId")
}

func TestParticipants_HappyPath(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{participantItem("c1", "alice"), participantItem("c1", "bob")}},
	}}
	c := mustNewClient(t, db)

	participants, err := c.Participants(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, participants)
	require.Equal(t, "ConversationId = :id", *db.queryIns[0].KeyConditionExpression)
	require.Nil(t, db.queryIns[0].IndexName)
}

func TestParticipants_Empty(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	participants, err := c.Participants(context.Background(), "c1")
	require.NoError(t, err)
	require.Empty(t, participants)
}

func TestMessages_DrainsAllPagesInOrder(t *testing.T) {
	cursor := map[string]types.AttributeValue{
		"Timestamp": &types.AttributeValueMemberN{Value: "2"},
	}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{messageItem(1, "alice", "hi"), messageItem(2, "bob", "hey")},
			LastEvaluatedKey: cursor,
		},
		{
			Items: []map[string]types.AttributeValue{messageItem(3, "alice", "how are you")},
		},
	}}
	c := mustNewClient(t, db)

	msgs, err := c.Messages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, domain.Message{ConversationID: "c1", Timestamp: 1, Sender: "alice", Body: "hi"}, msgs[0])
	require.Equal(t, int64(3), msgs[2].Timestamp)

	require.Len(t, db.queryIns, 2)
	require.Equal(t, "#T, Sender, Message", *db.queryIns[0].ProjectionExpression)
	require.Equal(t, "Timestamp", db.queryIns[0].ExpressionAttributeNames["#T"])
	require.Equal(t, cursor, db.startKeys[1])
}

func TestMessages_PageError_DiscardsPartialResult(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("boom")}
	c := mustNewClient(t, db)
	msgs, err := c.Messages(context.Background(), "c1")
	require.Error(t, err)
	require.Nil(t, msgs)
}

func TestMessages_MalformedItem(t *testing.T) {
	item := map[string]types.AttributeValue{
		"Timestamp": &types.AttributeValueMemberS{Value: "not-a-number-attr"},
	}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	c := mustNewClient(t, db)
	_, err := c.Messages(context.Background(), "c1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Timestamp")
}

func TestLastMessageTime_HappyPath(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{messageItem(42, "alice", "latest")}},
	}}
	c := mustNewClient(t, db)

	ts, err := c.LastMessageTime(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, ts)
	require.Equal(t, int64(42), *ts)

	in := db.queryIns[0]
	require.False(t, *in.ScanIndexForward)
	require.Equal(t, int32(1), *in.Limit)
	require.Equal(t, "#T", *in.ProjectionExpression)
}

func TestLastMessageTime_NoMessages(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	ts, err := c.LastMessageTime(context.Background(), "c1")
	require.NoError(t, err)
	require.Nil(t, ts)
}

func TestLastMessageTime_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, err := c.LastMessageTime(context.Background(), "c1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "LastMessageTime")
}

func TestPutMessage_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.PutMessage(context.Background(), domain.Message{
		ConversationID: "c1", Timestamp: 1700000000000, Sender: "alice", Body: "hi",
	})
	require.NoError(t, err)
	require.Equal(t, "Chat-Messages", *db.lastPutIn.TableName)
	require.Equal(t, "c1", db.lastPutIn.Item["ConversationId"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "1700000000000", db.lastPutIn.Item["Timestamp"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "hi", db.lastPutIn.Item["Message"].(*types.AttributeValueMemberS).Value)
}

func TestPutMessage_MissingFields(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.PutMessage(context.Background(), domain.Message{Sender: "alice"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestPutMessage_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("internal server error")}
	c := mustNewClient(t, db)
	err := c.PutMessage(context.Background(), domain.Message{ConversationID: "c1", Sender: "alice", Body: "hi"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "PutMessage")
}

func TestCreateParticipants_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.CreateParticipants(context.Background(), "c1", []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, db.batchIns, 1)
	requests := db.batchIns[0].RequestItems["Chat-Conversations"]
	require.Len(t, requests, 2)
	require.Equal(t, "c1", requests[0].PutRequest.Item["ConversationId"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "alice", requests[0].PutRequest.Item["Username"].(*types.AttributeValueMemberS).Value)
}

func TestCreateParticipants_RetriesUnprocessedItems(t *testing.T) {
	leftover := types.WriteRequest{PutRequest: &types.PutRequest{Item: participantItem("c1", "bob")}}
	db := &fakeDynamo{batchOuts: []*dynamodb.BatchWriteItemOutput{
		{UnprocessedItems: map[string][]types.WriteRequest{"Chat-Conversations": {leftover}}},
		{},
	}}
	c := mustNewClient(t, db)

	err := c.CreateParticipants(context.Background(), "c1", []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, db.batchIns, 2)
	require.Len(t, db.batchIns[1].RequestItems["Chat-Conversations"], 1)
}

func TestCreateParticipants_GivesUpAfterBoundedRetries(t *testing.T) {
	leftover := types.WriteRequest{PutRequest: &types.PutRequest{Item: participantItem("c1", "bob")}}
	stuck := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{"Chat-Conversations": {leftover}}}
	db := &fakeDynamo{batchOuts: []*dynamodb.BatchWriteItemOutput{stuck, stuck, stuck}}
	c := mustNewClient(t, db)

	err := c.CreateParticipants(context.Background(), "c1", []string{"alice", "bob"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unprocessed")
	require.Len(t, db.batchIns, batchWriteAttempts)
}

func TestCreateParticipants_BatchError(t *testing.T) {
	db := &fakeDynamo{batchErr: errors.New("throttled")}
	c := mustNewClient(t, db)
	err := c.CreateParticipants(context.Background(), "c1", []string{"alice"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "CreateParticipants")
}

func TestCreateParticipants_Validations(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.Error(t, c.CreateParticipants(context.Background(), "", []string{"alice"}))
	require.Error(t, c.CreateParticipants(context.Background(), "c1", nil))
}
