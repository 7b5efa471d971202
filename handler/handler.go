package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conversation-api/internal/domain"
	"conversation-api/internal/security"
	"conversation-api/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ConversationUseCase interface {
	List(ctx context.Context, caller string) ([]domain.ConversationSummary, error)
	Create(ctx context.Context, caller string, in usecase.ConversationInput) (domain.Conversation, error)
	Get(ctx context.Context, caller, id string) (domain.Conversation, error)
	Update(ctx context.Context, caller, id string, in usecase.ConversationInput) (domain.Conversation, error)
	Delete(ctx context.Context, caller, id string) error
}

type AuthUseCase interface {
	Register(ctx context.Context, in usecase.RegisterInput) (usecase.AuthOutput, error)
	Login(ctx context.Context, in usecase.LoginInput) (usecase.AuthOutput, error)
	CurrentUser(ctx context.Context, caller string) (domain.User, error)
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (security.Identity, error)
}

// Handler serves the REST API behind an API Gateway proxy integration.
type Handler struct {
	conversations ConversationUseCase
	auth          AuthUseCase
	tokens        TokenVerifier
	log           zerolog.Logger
}

func NewHandler(conversations ConversationUseCase, auth AuthUseCase, tokens TokenVerifier, log zerolog.Logger) (*Handler, error) {
	if conversations == nil {
		return nil, errors.New("handler: conversation use case must not be nil")
	}
	if auth == nil {
		return nil, errors.New("handler: auth use case must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("handler: token verifier must not be nil")
	}
	return &Handler{conversations: conversations, auth: auth, tokens: tokens, log: log}, nil
}

// request is the per-invocation view the route functions work with.
type request struct {
	event  events.APIGatewayProxyRequest
	id     string
	caller string
	body   []byte
}

type routeFunc func(ctx context.Context, h *Handler, r *request) (int, any, error)

type route struct {
	public bool
	fn     routeFunc
}

// Handle never returns an error; every failure becomes a JSON response.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(event, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With().
		Str("correlation_id", correlationID).
		Str("method", event.HTTPMethod).
		Str("path", event.Path).
		Logger()

	status, payload, err := h.dispatch(ctx, event)
	if err != nil {
		status, payload = errorResult(err)
		entry := log.Warn()
		if status >= http.StatusInternalServerError {
			entry = log.Error()
		}
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			entry = entry.Str("code", string(ucErr.Code)).Str("reason", ucErr.Reason)
		}
		entry.Err(err).Int("status", status).Dur("duration", time.Since(start)).Msg("request failed")
	} else {
		log.Debug().Int("status", status).Dur("duration", time.Since(start)).Msg("request completed")
	}

	return respond(status, payload, correlationID), nil
}

func (h *Handler) dispatch(ctx context.Context, event events.APIGatewayProxyRequest) (int, any, error) {
	rt, id, err := match(event.HTTPMethod, event.Path)
	if err != nil {
		return 0, nil, err
	}

	r := &request{event: event, id: id}
	if !rt.public {
		caller, err := h.authenticate(ctx, event)
		if err != nil {
			return 0, nil, err
		}
		r.caller = caller
	}
	if r.body, err = decodeBody(event); err != nil {
		return 0, nil, err
	}
	return rt.fn(ctx, h, r)
}

// authenticate resolves the caller from "Authorization: Bearer" or
// "x-auth-token".
func (h *Handler) authenticate(ctx context.Context, event events.APIGatewayProxyRequest) (string, error) {
	token := bearerToken(headerValue(event, "Authorization"))
	if token == "" {
		token = strings.TrimSpace(headerValue(event, "x-auth-token"))
	}
	if token == "" {
		return "", errMissingToken
	}
	identity, err := h.tokens.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, security.ErrInvalidToken) {
			return "", errInvalidToken
		}
		return "", err
	}
	return identity.UserID, nil
}

// match resolves method and path to a route. An optional "/api" prefix and
// trailing slashes are ignored.
func match(method, path string) (route, string, error) {
	path = strings.Trim(path, "/")
	path = strings.TrimPrefix(path, "api/")
	if path == "api" {
		path = ""
	}
	segments := strings.Split(path, "/")

	var byMethod map[string]route
	var id string
	switch {
	case len(segments) == 1 && segments[0] == "conversations":
		byMethod = map[string]route{
			http.MethodGet:  {fn: listConversations},
			http.MethodPost: {fn: createConversation},
		}
	case len(segments) == 2 && segments[0] == "conversations" && segments[1] != "":
		id = segments[1]
		byMethod = map[string]route{
			http.MethodGet:    {fn: getConversation},
			http.MethodPut:    {fn: updateConversation},
			http.MethodDelete: {fn: deleteConversation},
		}
	case len(segments) == 2 && segments[0] == "auth":
		switch segments[1] {
		case "register":
			byMethod = map[string]route{http.MethodPost: {public: true, fn: register}}
		case "login":
			byMethod = map[string]route{http.MethodPost: {public: true, fn: login}}
		case "user":
			byMethod = map[string]route{http.MethodGet: {fn: currentUser}}
		}
	}
	if byMethod == nil {
		return route{}, "", errRouteNotFound
	}
	rt, ok := byMethod[strings.ToUpper(method)]
	if !ok {
		return route{}, "", errMethodNotAllowed
	}
	return rt, id, nil
}

func listConversations(ctx context.Context, h *Handler, r *request) (int, any, error) {
	out, err := h.conversations.List(ctx, r.caller)
	return http.StatusOK, out, err
}

func createConversation(ctx context.Context, h *Handler, r *request) (int, any, error) {
	var in usecase.ConversationInput
	if err := decodeJSON(r.body, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.conversations.Create(ctx, r.caller, in)
	return http.StatusOK, out, err
}

func getConversation(ctx context.Context, h *Handler, r *request) (int, any, error) {
	out, err := h.conversations.Get(ctx, r.caller, r.id)
	return http.StatusOK, out, err
}

func updateConversation(ctx context.Context, h *Handler, r *request) (int, any, error) {
	var in usecase.ConversationInput
	if err := decodeJSON(r.body, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.conversations.Update(ctx, r.caller, r.id, in)
	return http.StatusOK, out, err
}

func deleteConversation(ctx context.Context, h *Handler, r *request) (int, any, error) {
	if err := h.conversations.Delete(ctx, r.caller, r.id); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, messageResponse{Message: "Conversation removed"}, nil
}

func register(ctx context.Context, h *Handler, r *request) (int, any, error) {
	var in usecase.RegisterInput
	if err := decodeJSON(r.body, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.auth.Register(ctx, in)
	return http.StatusOK, out, err
}

func login(ctx context.Context, h *Handler, r *request) (int, any, error) {
	var in usecase.LoginInput
	if err := decodeJSON(r.body, &in); err != nil {
		return 0, nil, err
	}
	out, err := h.auth.Login(ctx, in)
	return http.StatusOK, out, err
}

func currentUser(ctx context.Context, h *Handler, r *request) (int, any, error) {
	out, err := h.auth.CurrentUser(ctx, r.caller)
	return http.StatusOK, out, err
}

func decodeBody(event events.APIGatewayProxyRequest) ([]byte, error) {
	if !event.IsBase64Encoded {
		return []byte(event.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(event.Body)
	if err != nil {
		return nil, errBadBody
	}
	return b, nil
}

// decodeJSON treats an empty body as an empty object.
func decodeJSON(body []byte, v any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errBadBody
	}
	return nil
}

func headerValue(event events.APIGatewayProxyRequest, name string) string {
	for k, v := range event.Headers {
		if strings.EqualFold(k, name) && v != "" {
			return v
		}
	}
	for k, vs := range event.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

func bearerToken(value string) string {
	const prefix = "bearer "
	value = strings.TrimSpace(value)
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(value[len(prefix):])
}
