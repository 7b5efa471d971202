package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"conversation-api/handler"
	"conversation-api/internal/config"
	"conversation-api/internal/integrations/paramstore"
	"conversation-api/internal/logger"
	"conversation-api/internal/repository"
	"conversation-api/internal/security"
	"conversation-api/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// ---- Clients ----
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SSM client")
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName, cfg.OwnerIndex)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create DynamoDB store")
	}

	tokens, err := security.NewTokenProvider(security.TokenConfig{
		Secret:      cfg.JWTSecret,
		Params:      params,
		SecretParam: cfg.SecretParam(),
		Issuer:      cfg.JWTIssuer,
		Audience:    cfg.JWTAudience,
		TTL:         cfg.TokenTTL(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token provider")
	}

	// ---- Handler ----
	conversations, err := usecase.NewConversationService(store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create conversation service")
	}
	auth, err := usecase.NewAuthService(store, security.NewHasher(cfg.BcryptCost), tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create auth service")
	}

	h, err := handler.NewHandler(conversations, auth, tokens, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	log.Info().Str("table", cfg.TableName).Msg("conversation api ready")
	lambda.Start(h.Handle)
}
