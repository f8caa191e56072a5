package services

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeValidation  ErrorCode = "validation_error"
	CodeForbidden   ErrorCode = "forbidden"
	CodeNotFound    ErrorCode = "not_found"
	CodeDecryption  ErrorCode = "decryption_error"
	CodeUpload      ErrorCode = "upload_error"
	CodeRateLimited ErrorCode = "rate_limited"
	CodeInternal    ErrorCode = "internal_error"
)

// AppError carries a stable code for clients plus a human readable message.
// Two AppErrors match under errors.Is when their codes match.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func newError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// With returns a copy of e carrying a more specific message.
func (e *AppError) With(message string) *AppError {
	return &AppError{Code: e.Code, Message: message, Err: e.Err}
}

func (e *AppError) Wrap(err error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Err: err}
}

var (
	ErrValidation  = newError(CodeValidation, "invalid request")
	ErrForbidden   = newError(CodeForbidden, "forbidden")
	ErrNotFound    = newError(CodeNotFound, "not found")
	ErrDecryption  = newError(CodeDecryption, "message could not be decrypted")
	ErrUpload      = newError(CodeUpload, "upload failed")
	ErrRateLimited = newError(CodeRateLimited, "too many requests")
)

var (
	ErrEmptyMessage       = ErrValidation.With("message needs content or media")
	ErrInvalidKind        = ErrValidation.With("unknown message kind")
	ErrInvalidMediaType   = ErrValidation.With("unknown media type")
	ErrInvalidEmoji       = ErrValidation.With("emoji is not supported")
	ErrInvalidCursor      = ErrValidation.With("cursor does not belong to this conversation")
	ErrInvalidReply       = ErrValidation.With("reply target is not in this conversation")
	ErrMessageDeleted     = ErrValidation.With("message has been deleted")
	ErrNotParticipant     = ErrForbidden.With("not a participant of this conversation")
	ErrNotSender          = ErrForbidden.With("only the sender can change this message")
	ErrEditWindowExpired  = ErrForbidden.With("edit window has expired")
	ErrConversationAbsent = ErrNotFound.With("conversation not found")
	ErrMessageAbsent      = ErrNotFound.With("message not found")
)

func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
