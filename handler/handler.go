package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"serverless-chat/internal/domain"
	"serverless-chat/internal/usecase"
)

const (
	conversationsPath       = "/conversations"
	conversationsPathPrefix = "/conversations/"
	usersPath               = "/users"

	usernameClaim = "cognito:username"
)

// ChatUseCase defines the conversation operations consumed by the handler.
type ChatUseCase interface {
	ListConversations(ctx context.Context, username string) ([]domain.ConversationSummary, error)
	GetConversation(ctx context.Context, conversationID, username string) (domain.Conversation, error)
	CreateConversation(ctx context.Context, creator string, others []string) (string, error)
	PostMessage(ctx context.Context, conversationID, sender, body string) error
}

// UserUseCase lists registered users for starting new conversations.
type UserUseCase interface {
	ListUsers(ctx context.Context, caller string) ([]string, error)
}

// Handler routes API Gateway proxy events to the chat use cases.
type Handler struct {
	chat          ChatUseCase
	users         UserUseCase
	allowedOrigin string
}

// NewHandler creates a Handler. allowedOrigin is served back in CORS headers;
// empty selects "*".
func NewHandler(chat ChatUseCase, users UserUseCase, allowedOrigin string) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if users == nil {
		return nil, errors.New("handler: user use case must not be nil")
	}
	if strings.TrimSpace(allowedOrigin) == "" {
		allowedOrigin = "*"
	}
	return &Handler{chat: chat, users: users, allowedOrigin: allowedOrigin}, nil
}

// Wire shapes. Summaries carry no messages; "last" is omitted for
// conversations without any.
type messageResponse struct {
	Sender  string `json:"sender"`
	Time    int64  `json:"time"`
	Message string `json:"message"`
}

type conversationSummaryResponse struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	Last         *int64   `json:"last,omitempty"`
}

type conversationResponse struct {
	ID           string            `json:"id"`
	Participants []string          `json:"participants"`
	Last         *int64            `json:"last,omitempty"`
	Messages     []messageResponse `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle dispatches one API Gateway proxy event. The caller's identity comes
// from the Cognito authorizer claims; requests without a username claim are
// rejected before any routing.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationID(event.Headers)
	log := slog.With("correlationId", correlationID, "method", event.HTTPMethod, "path", event.Path)

	username, ok := claimedUsername(event)
	if !ok {
		log.Warn("request missing username claim")
		return h.errorReply(http.StatusUnauthorized, string(usecase.ErrorUnauthorized), correlationID), nil
	}

	var (
		body any
		err  error
	)
	switch {
	case event.Path == conversationsPath && event.HTTPMethod == http.MethodGet:
		body, err = h.listConversations(ctx, username)
	case event.Path == conversationsPath && event.HTTPMethod == http.MethodPost:
		body, err = h.createConversation(ctx, username, event.Body)
	case strings.HasPrefix(event.Path, conversationsPathPrefix) && event.HTTPMethod == http.MethodGet:
		body, err = h.getConversation(ctx, strings.TrimPrefix(event.Path, conversationsPathPrefix), username)
	case strings.HasPrefix(event.Path, conversationsPathPrefix) && event.HTTPMethod == http.MethodPost:
		err = h.chat.PostMessage(ctx, strings.TrimPrefix(event.Path, conversationsPathPrefix), username, event.Body)
		body = struct{}{}
	case event.Path == usersPath && event.HTTPMethod == http.MethodGet:
		body, err = h.users.ListUsers(ctx, username)
	default:
		return h.errorReply(http.StatusNotFound, "NO_ROUTE", correlationID), nil
	}

	if err != nil {
		status, code := mapError(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "err", err)
		} else {
			log.Warn("request rejected", "err", err)
		}
		return h.errorReply(status, code, correlationID), nil
	}
	return h.reply(http.StatusOK, body, correlationID), nil
}

func (h *Handler) listConversations(ctx context.Context, username string) (any, error) {
	summaries, err := h.chat.ListConversations(ctx, username)
	if err != nil {
		return nil, err
	}
	out := make([]conversationSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, conversationSummaryResponse{
			ID:           s.ID,
			Participants: s.Participants,
			Last:         s.LastActivity,
		})
	}
	return out, nil
}

func (h *Handler) getConversation(ctx context.Context, conversationID, username string) (any, error) {
	convo, err := h.chat.GetConversation(ctx, conversationID, username)
	if err != nil {
		return nil, err
	}
	msgs := make([]messageResponse, 0, len(convo.Messages))
	for _, m := range convo.Messages {
		msgs = append(msgs, messageResponse{Sender: m.Sender, Time: m.Timestamp, Message: m.Body})
	}
	return conversationResponse{
		ID:           convo.ID,
		Participants: convo.Participants,
		Last:         convo.LastActivity,
		Messages:     msgs,
	}, nil
}

// createConversation expects the request body to be a JSON array of the
// other members' usernames; the reply body is the new id as a JSON string.
func (h *Handler) createConversation(ctx context.Context, creator, rawBody string) (any, error) {
	var others []string
	if err := json.Unmarshal([]byte(rawBody), &others); err != nil {
		return nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_user_list", Err: err}
	}
	return h.chat.CreateConversation(ctx, creator, others)
}

// claimedUsername extracts the authenticated username from the Cognito
// authorizer claims attached by API Gateway.
func claimedUsername(event events.APIGatewayProxyRequest) (string, bool) {
	claims, ok := event.RequestContext.Authorizer["claims"].(map[string]any)
	if !ok {
		return "", false
	}
	username, ok := claims[usernameClaim].(string)
	if !ok || strings.TrimSpace(username) == "" {
		return "", false
	}
	return username, true
}

func mapError(err error) (int, string) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, string(ucErr.Code)
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized, string(ucErr.Code)
	case usecase.ErrorNotFound:
		return http.StatusNotFound, string(ucErr.Code)
	case usecase.ErrorStoreUnavailable:
		return http.StatusServiceUnavailable, string(ucErr.Code)
	default:
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
}

func (h *Handler) reply(statusCode int, body any, correlationID string) events.APIGatewayProxyResponse {
	encoded, err := json.Marshal(body)
	if err != nil {
		return h.errorReply(http.StatusInternalServerError, string(usecase.ErrorInternal), correlationID)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    h.headers(correlationID),
		Body:       string(encoded),
	}
}

func (h *Handler) errorReply(statusCode int, code, correlationID string) events.APIGatewayProxyResponse {
	encoded, _ := json.Marshal(errorResponse{Error: code})
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    h.headers(correlationID),
		Body:       string(encoded),
	}
}

func (h *Handler) headers(correlationID string) map[string]string {
	return map[string]string{
		"Content-Type":                "application/json",
		"Access-Control-Allow-Origin": h.allowedOrigin,
		"X-Correlation-Id":            correlationID,
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}
