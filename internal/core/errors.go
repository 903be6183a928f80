package core

import (
	"errors"
	"fmt"
)

// ErrorCategory names the kind of failure an ingestion produced. It is what
// the HTTP and CLI boundaries report back to callers.
type ErrorCategory string

const (
	CategoryNone         ErrorCategory = ""
	CategoryValidation   ErrorCategory = "validation_error"
	CategoryDecode       ErrorCategory = "decode_error"
	CategoryInvalidMonth ErrorCategory = "invalid_month"
	CategoryStorage      ErrorCategory = "storage_error"
	CategoryFileSystem   ErrorCategory = "filesystem_error"
	CategoryInternal     ErrorCategory = "internal_error"
)

type (
	// DecodeError reports an unreadable or malformed spreadsheet. Row is 0 when
	// the problem is not tied to a specific data row.
	DecodeError struct {
		Reason string
		Row    int
		Err    error
	}

	// InvalidMonthError carries the raw month token that could not be normalized.
	InvalidMonthError struct {
		Token string
		Row   int
	}

	// StorageError wraps a failure of the relational store. Op is the step that
	// failed (begin, purge, insert, commit, query).
	StorageError struct {
		Op  string
		Err error
	}

	// FileSystemError wraps a failure to move or remove a transient upload.
	FileSystemError struct {
		Op   string
		Path string
		Err  error
	}
)

func (e *DecodeError) Error() string {
	msg := "decode spreadsheet: " + e.Reason
	if e.Row > 0 {
		msg = fmt.Sprintf("%s (row %d)", msg, e.Row)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *InvalidMonthError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("invalid month %q (row %d)", e.Token, e.Row)
	}
	return fmt.Sprintf("invalid month %q", e.Token)
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("filesystem %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }

// Category classifies err. When several kinds are joined, the first match in
// the order validation, decode, invalid month, storage, filesystem wins.
func Category(err error) ErrorCategory {
	if err == nil {
		return CategoryNone
	}
	var (
		decodeErr *DecodeError
		monthErr  *InvalidMonthError
		storeErr  *StorageError
		fsErr     *FileSystemError
	)
	switch {
	case errors.Is(err, ErrInvalidPartition):
		return CategoryValidation
	case errors.As(err, &decodeErr):
		return CategoryDecode
	case errors.As(err, &monthErr):
		return CategoryInvalidMonth
	case errors.As(err, &storeErr):
		return CategoryStorage
	case errors.As(err, &fsErr):
		return CategoryFileSystem
	default:
		return CategoryInternal
	}
}
