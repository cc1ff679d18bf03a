package utils

import (
	"net/http"
)

// AppError is an error carrying the HTTP status the thin handler layer should
// respond with.
type AppError struct {
	StatusCode int
	Message    string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewBadRequestError(msg string) *AppError {
	return &AppError{StatusCode: http.StatusBadRequest, Message: msg}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{StatusCode: http.StatusNotFound, Message: msg}
}

func NewConflictError(msg string) *AppError {
	return &AppError{StatusCode: http.StatusConflict, Message: msg}
}

func NewUnprocessableError(msg string) *AppError {
	return &AppError{StatusCode: http.StatusUnprocessableEntity, Message: msg}
}

func NewInternalError(msg string) *AppError {
	return &AppError{StatusCode: http.StatusInternalServerError, Message: msg}
}
