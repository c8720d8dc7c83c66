package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrEventNotFound     = errors.New("event not found")
	ErrDuplicateSlug     = errors.New("event slug already exists")
	ErrUserNotEnrolled   = errors.New("user is not enrolled in event")
	ErrSelfRequest       = errors.New("cannot send a connection request to yourself")
	ErrDuplicateRequest  = errors.New("an active connection request already exists between these users")
	ErrRequestNotFound   = errors.New("connection request not found")
	ErrInvalidTransition = errors.New("connection request is no longer pending")
	ErrNotRecipient      = errors.New("only the recipient can respond to a connection request")
	ErrInvalidInput      = errors.New("invalid input")
	ErrWalletTaken       = errors.New("wallet address belongs to another user")
	ErrUserNotFound      = errors.New("user not found")
)

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a storage failure caused by a deadline
// or cancellation, which a caller may retry.
func IsTransient(err error) bool {
	var se *StorageError
	if !errors.As(err, &se) {
		return false
	}
	return errors.Is(se.Err, context.DeadlineExceeded) || errors.Is(se.Err, context.Canceled)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

var codes = []struct {
	err  error
	code string
}{
	{ErrEventNotFound, "EVENT_NOT_FOUND"},
	{ErrDuplicateSlug, "DUPLICATE_SLUG"},
	{ErrUserNotEnrolled, "USER_NOT_ENROLLED"},
	{ErrSelfRequest, "SELF_REQUEST"},
	{ErrDuplicateRequest, "DUPLICATE_REQUEST"},
	{ErrRequestNotFound, "REQUEST_NOT_FOUND"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrNotRecipient, "NOT_RECIPIENT"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrWalletTaken, "WALLET_TAKEN"},
	{ErrUserNotFound, "USER_NOT_FOUND"},
}

// ErrorCode returns the stable machine-readable code for err.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	var se *StorageError
	if errors.As(err, &se) {
		return "STORAGE_ERROR"
	}
	return "INTERNAL"
}

// isUniqueViolation recognises unique constraint failures from PostgreSQL,
// from GORM's translated error, and from SQLite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
