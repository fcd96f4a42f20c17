package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeMalformedInput  ErrorCode = "MALFORMED_INPUT"
	ErrCodePersistence     ErrorCode = "PERSISTENCE_ERROR"
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// Malformed создаёт ошибку валидации входных данных с форматированным сообщением.
func Malformed(format string, args ...any) *AppError {
	return New(ErrCodeMalformedInput, fmt.Sprintf(format, args...))
}

// Persistence оборачивает сбой записи в хранилище.
func Persistence(err error) *AppError {
	return Wrap(err, ErrCodePersistence, "não foi possível salvar os dados")
}

// NotFound создаёт ошибку для отсутствующей записи.
func NotFound(id int64) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("denúncia %d não encontrada", id))
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeMalformedInput:
		return http.StatusBadRequest
	case ErrCodePersistence:
		return http.StatusServiceUnavailable
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или ErrCodeInternal для неизвестных ошибок.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

func IsUnauthenticated(err error) bool {
	return CodeOf(err) == ErrCodeUnauthenticated
}

func IsMalformed(err error) bool {
	return CodeOf(err) == ErrCodeMalformedInput
}

func IsPersistence(err error) bool {
	return CodeOf(err) == ErrCodePersistence
}

var (
	ErrUnauthenticated = New(ErrCodeUnauthenticated, "é preciso entrar para registrar uma denúncia")
	ErrPendingExpired  = New(ErrCodeNotFound, "o prazo para desfazer a exclusão terminou")
)
