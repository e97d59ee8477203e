package utils

import "strings"

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

// Standard error codes for the application
const (
	// Resource errors
	ErrNotFound     = "NOT_FOUND"
	ErrDuplicate    = "DUPLICATE"
	ErrInvalidInput = "INVALID_INPUT"

	// Authentication/Authorization errors
	ErrUnauthorized = "UNAUTHORIZED"
	ErrForbidden    = "FORBIDDEN" // User is authenticated but doesn't have permission
	ErrInvalidToken = "INVALID_TOKEN"

	// User-specific errors
	ErrUserNotFound       = "USER_NOT_FOUND"
	ErrUserAlreadyExists  = "USER_ALREADY_EXISTS"
	ErrInvalidCredentials = "INVALID_CREDENTIALS"

	// Messaging errors
	ErrConversationNotFound = "CONVERSATION_NOT_FOUND"
	ErrMessageNotFound      = "MESSAGE_NOT_FOUND"
	ErrSendFailed           = "SEND_FAILED"
	ErrStatusRegression     = "STATUS_REGRESSION"

	// Client configuration
	ErrConfigMissing = "CONFIG_MISSING"

	// Actor communication errors
	ErrActorTimeout    = "ACTOR_TIMEOUT"
	ErrActorNotFound   = "ACTOR_NOT_FOUND"
	ErrMessageRejected = "MESSAGE_REJECTED"

	// Rate limiting
	ErrTooManyRequests = "TOO_MANY_REQUESTS"

	ErrDatabase = "database_error"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewUserNotFoundError(userId string) *AppError {
	return &AppError{
		Code:    ErrUserNotFound,
		Message: "User not found: " + userId,
	}
}

func NewUnauthorizedError(reason string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "Unauthorized: " + reason,
	}
}

func NewActorTimeoutError(actorName string) *AppError {
	return &AppError{
		Code:    ErrActorTimeout,
		Message: "Actor communication timeout: " + actorName,
	}
}

// Helper method to check if an error is of a specific type
func IsErrorCode(err error, code string) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// Helper method to check if an error is related to authentication
func IsAuthError(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrUnauthorized ||
			appErr.Code == ErrForbidden ||
			appErr.Code == ErrInvalidToken
	}
	return false
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound, ErrUserNotFound, ErrConversationNotFound, ErrMessageNotFound, ErrActorNotFound:
		return 404 // http.StatusNotFound
	case ErrInvalidInput, ErrInvalidCredentials, ErrStatusRegression:
		return 400 // http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidToken:
		return 401 // http.StatusUnauthorized
	case ErrForbidden:
		return 403 // http.StatusForbidden
	case ErrDuplicate, ErrUserAlreadyExists:
		return 409 // http.StatusConflict
	case ErrTooManyRequests:
		return 429 // http.StatusTooManyRequests
	case ErrDatabase, ErrActorTimeout, ErrMessageRejected, ErrSendFailed:
		return 500 // http.StatusInternalServerError
	default:
		return 500 // http.StatusInternalServerError for unknown errors
	}
}

// HumanizeAuthError maps raw authentication failures onto messages suitable
// for a sign-in/sign-up form, by matching known error substrings.
func HumanizeAuthError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid credentials"), strings.Contains(msg, "password"):
		return "Incorrect email or password."
	case strings.Contains(msg, "already registered"), strings.Contains(msg, "already exists"), strings.Contains(msg, "duplicate"):
		return "An account with that email or handle already exists."
	case strings.Contains(msg, "not found"):
		return "No account found for that email."
	case strings.Contains(msg, "token"):
		return "Your session has expired. Please sign in again."
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return "Could not reach the server. Check your connection and try again."
	default:
		return "Something went wrong. Please try again."
	}
}
