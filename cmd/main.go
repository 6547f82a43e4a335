package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awscognito "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"serverless-chat/handler"
	"serverless-chat/internal/integrations/cognito"
	"serverless-chat/internal/integrations/paramstore"
	"serverless-chat/internal/repository"
	"serverless-chat/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	conversationsTable := mustEnv("CONVERSATIONS_TABLE")
	messagesTable := mustEnv("MESSAGES_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	fanOutLimit := envInt("FAN_OUT_LIMIT", 8)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	settings, err := ssmClient.LoadSettings(ctx, paramPrefix)
	if err != nil {
		slog.Error("failed to load runtime settings", "err", err)
		os.Exit(1)
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), conversationsTable, messagesTable)
	if err != nil {
		slog.Error("failed to create store client", "err", err)
		os.Exit(1)
	}
	directory, err := cognito.New(awscognito.NewFromConfig(cfg), settings.UserPoolID)
	if err != nil {
		slog.Error("failed to create user directory client", "err", err)
		os.Exit(1)
	}

	// ---- Services ----
	chatService, err := usecase.NewChatService(store, fanOutLimit)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	userService, err := usecase.NewUserService(directory)
	if err != nil {
		slog.Error("failed to create user service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chatService, userService, settings.AllowedOrigin)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
