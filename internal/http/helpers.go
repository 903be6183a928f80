package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"finrec/internal/core"
)

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	Token    string `json:"token,omitempty"`
	Row      int    `json:"row,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error category to the response status.
func statusFor(category core.ErrorCategory) int {
	switch category {
	case core.CategoryValidation:
		return http.StatusBadRequest
	case core.CategoryDecode, core.CategoryInvalidMonth:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the structured failure for err. Internal details of
// storage and filesystem failures stay in the logs.
func errorBody(prefix string, err error) errorResponse {
	category := core.Category(err)
	body := errorResponse{Category: string(category)}

	switch category {
	case core.CategoryValidation, core.CategoryDecode:
		body.Error = prefix + ": " + err.Error()
	case core.CategoryInvalidMonth:
		body.Error = prefix + ": " + err.Error()
		var monthErr *core.InvalidMonthError
		if errors.As(err, &monthErr) {
			body.Token = monthErr.Token
			body.Row = monthErr.Row
		}
	case core.CategoryStorage:
		body.Error = prefix + ": storage failure"
	case core.CategoryFileSystem:
		body.Error = prefix + ": could not handle uploaded file"
	default:
		body.Error = prefix
	}

	var decodeErr *core.DecodeError
	if errors.As(err, &decodeErr) && decodeErr.Row > 0 && body.Row == 0 {
		body.Row = decodeErr.Row
	}
	return body
}

func partitionFromRequest(r *http.Request) (core.PartitionKey, error) {
	return core.NewPartitionKey(r.PathValue("userId"), r.PathValue("year"))
}

// uploadExtension keeps a short alphanumeric extension so format detection
// still sees it on the spooled file. Anything else is dropped.
func uploadExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

// spoolUpload copies the multipart file into a fresh file under dir and
// returns its path. The caller owns removal.
func spoolUpload(dir string, file multipart.File, header *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", &core.FileSystemError{Op: "mkdir", Path: dir, Err: err}
	}
	f, err := os.CreateTemp(dir, "upload-*"+uploadExtension(header.Filename))
	if err != nil {
		return "", &core.FileSystemError{Op: "create", Path: dir, Err: err}
	}
	path := f.Name()

	_, copyErr := io.Copy(f, file)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return "", &core.FileSystemError{Op: "write", Path: path, Err: err}
	}
	return path, nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("File too large: limit is %d bytes", limit)
}
