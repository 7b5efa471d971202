package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"conversation-api/internal/usecase"
)

type messageResponse struct {
	Message string `json:"message"`
}

// boundaryError is a failure detected before any use case runs.
type boundaryError struct {
	status  int
	message string
}

func (e *boundaryError) Error() string { return e.message }

var (
	errRouteNotFound    = &boundaryError{status: http.StatusNotFound, message: "Route not found"}
	errMethodNotAllowed = &boundaryError{status: http.StatusMethodNotAllowed, message: "Method not allowed"}
	errMissingToken     = &boundaryError{status: http.StatusUnauthorized, message: "No token, authorization denied"}
	errInvalidToken     = &boundaryError{status: http.StatusUnauthorized, message: "Token is not valid"}
	errBadBody          = &boundaryError{status: http.StatusBadRequest, message: "Invalid request body"}
)

var reasonMessages = map[string]string{
	usecase.ReasonConversationNotFound: "Conversation not found",
	usecase.ReasonNotOwner:             "User not authorized",
	usecase.ReasonUserNotFound:         "User not found",
	usecase.ReasonUserExists:           "User already exists",
	usecase.ReasonInvalidCredentials:   "Invalid credentials",
	usecase.ReasonMissingName:          "Name is required",
	usecase.ReasonInvalidEmail:         "Please include a valid email",
	usecase.ReasonWeakPassword:         "Please enter a password with 6 or more characters",
	usecase.ReasonMissingCredentials:   "Email and password are required",
}

// errorResult maps an error to its status and body. Internal details never
// reach the client.
func errorResult(err error) (int, messageResponse) {
	var bErr *boundaryError
	if errors.As(err, &bErr) {
		return bErr.status, messageResponse{Message: bErr.message}
	}

	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, messageResponse{Message: "Server error"}
	}

	status, fallback := http.StatusInternalServerError, "Server error"
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status, fallback = http.StatusBadRequest, "Invalid request"
	case usecase.ErrorNotFound:
		status, fallback = http.StatusNotFound, "Not found"
	case usecase.ErrorUnauthorized:
		status, fallback = http.StatusUnauthorized, "User not authorized"
	default:
		return status, messageResponse{Message: fallback}
	}
	if msg, ok := reasonMessages[ucErr.Reason]; ok {
		return status, messageResponse{Message: msg}
	}
	return status, messageResponse{Message: fallback}
}

func respond(status int, payload any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"message":"Server error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
