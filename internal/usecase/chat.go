package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"serverless-chat/internal/domain"
)

const defaultFanOutLimit = 8

// ChatStore defines the conversation state operations consumed by ChatService.
type ChatStore interface {
	ConversationIDsForUser(ctx context.Context, username string) ([]string, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
	Messages(ctx context.Context, conversationID string) ([]domain.Message, error)
	LastMessageTime(ctx context.Context, conversationID string) (*int64, error)
	CreateParticipants(ctx context.Context, conversationID string, usernames []string) error
	PutMessage(ctx context.Context, msg domain.Message) error
}

// ChatService implements conversation discovery, assembly, creation, and
// message append over a ChatStore.
type ChatService struct {
	store       ChatStore
	fanOutLimit int
}

// NewChatService creates a ChatService. fanOutLimit caps how many
// conversations are detailed concurrently during a listing; values <= 0
// select the default.
func NewChatService(store ChatStore, fanOutLimit int) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: chat store must not be nil")
	}
	if fanOutLimit <= 0 {
		fanOutLimit = defaultFanOutLimit
	}
	return &ChatService{store: store, fanOutLimit: fanOutLimit}, nil
}

// ListConversations returns a summary of every conversation the user
// participates in. Ids come from the username index in its natural order;
// each conversation's last-activity timestamp and roster are then fetched
// concurrently across conversations, with the call completing only once
// every fetch has finished. Any failed fetch fails the whole listing.
func (s *ChatService) ListConversations(ctx context.Context, username string) ([]domain.ConversationSummary, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, newError(ErrorInvalidInput, "empty_username", nil)
	}

	ids, err := s.store.ConversationIDsForUser(ctx, username)
	if err != nil {
		return nil, newError(ErrorStoreUnavailable, "conversation_index_query_error", err)
	}

	summaries := make([]domain.ConversationSummary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOutLimit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			last, err := s.store.LastMessageTime(gctx, id)
			if err != nil {
				return err
			}
			participants, err := s.store.Participants(gctx, id)
			if err != nil {
				return err
			}
			summaries[i] = domain.ConversationSummary{
				ID:           id,
				LastActivity: last,
				Participants: participants,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, newError(ErrorStoreUnavailable, "conversation_detail_query_error", err)
	}
	return summaries, nil
}

// GetConversation assembles a conversation's complete ascending timeline and
// roster, then authorizes the requester against the freshly loaded roster.
// A conversation with no participant records at all does not exist; one with
// participants but no messages is returned with an empty timeline and no
// last-activity timestamp.
func (s *ChatService) GetConversation(ctx context.Context, conversationID, username string) (domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}

	messages, err := s.store.Messages(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, newError(ErrorStoreUnavailable, "message_query_error", err)
	}
	participants, err := s.store.Participants(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, newError(ErrorStoreUnavailable, "participant_query_error", err)
	}

	if len(participants) == 0 {
		return domain.Conversation{}, newError(ErrorNotFound, "unknown_conversation", nil)
	}
	if !contains(participants, username) {
		return domain.Conversation{}, newError(ErrorUnauthorized, "not_a_participant", nil)
	}

	var last *int64
	if len(messages) > 0 {
		last = &messages[len(messages)-1].Timestamp
	}
	return domain.Conversation{
		ID:           conversationID,
		Participants: participants,
		LastActivity: last,
		Messages:     messages,
	}, nil
}

// CreateConversation mints a new conversation id and persists one
// participant record per member in a single batch. The creator is always a
// member even when absent from others; duplicates are collapsed. The batch
// is best-effort: on failure some records may remain, and a retried create
// mints a fresh id rather than repairing the old one.
func (s *ChatService) CreateConversation(ctx context.Context, creator string, others []string) (string, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return "", newError(ErrorInvalidInput, "empty_creator", nil)
	}

	members := []string{creator}
	seen := map[string]bool{creator: true}
	for _, name := range others {
		name = strings.TrimSpace(name)
		if name == "" {
			return "", newError(ErrorInvalidInput, "empty_participant_name", nil)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		members = append(members, name)
	}

	id := newUUID()
	if err := s.store.CreateParticipants(ctx, id, members); err != nil {
		return "", newError(ErrorStoreUnavailable, "participant_batch_write_error", err)
	}
	return id, nil
}

// PostMessage appends one message stamped with the current server time.
// No existence or membership check is made here: authorizing the sender is
// the dispatch layer's concern.
func (s *ChatService) PostMessage(ctx context.Context, conversationID, sender, body string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return newError(ErrorInvalidInput, "empty_sender", nil)
	}
	if strings.TrimSpace(body) == "" {
		return newError(ErrorInvalidInput, "empty_message_body", nil)
	}

	msg := domain.Message{
		ConversationID: conversationID,
		Timestamp:      now().UnixMilli(),
		Sender:         sender,
		Body:           body,
	}
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return newError(ErrorStoreUnavailable, "message_write_error", err)
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
