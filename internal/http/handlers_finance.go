package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"finrec/internal/core"
	"finrec/internal/log"
	"finrec/internal/services"
)

const uploadSuccessMessage = "File uploaded and data stored successfully"

type uploadResponse struct {
	Message        string `json:"message"`
	RecordsWritten int    `json:"records_written"`
	Duplicates     int    `json:"duplicates"`
	Checksum       string `json:"checksum"`
}

// Amounts are written as JSON numbers with their stored precision.
type recordResponse struct {
	UserID    string      `json:"user_id"`
	Year      int         `json:"year"`
	Month     int         `json:"month"`
	MonthName string      `json:"month_name"`
	Amount    json.Number `json:"amount"`
}

type summaryResponse struct {
	UserID           string      `json:"user_id"`
	Year             int         `json:"year"`
	Count            int         `json:"count"`
	Total            json.Number `json:"total"`
	Average          json.Number `json:"average"`
	HighestMonth     int         `json:"highest_month,omitempty"`
	HighestMonthName string      `json:"highest_month_name,omitempty"`
	HighestAmount    json.Number `json:"highest_amount"`
}

type deleteResponse struct {
	Message        string `json:"message"`
	RecordsDeleted int    `json:"records_deleted"`
}

type partitionsResponse struct {
	UserID     string               `json:"user_id"`
	Partitions []core.PartitionInfo `json:"partitions"`
}

// handleUpload spools the "file" field to the upload directory and replaces
// the partition with its rows.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx).WithComponent(log.ComponentHTTP)

	key, err := partitionFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid partition", err))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	if err != nil {
		if isTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:    tooLargeMessage(s.maxUploadBytes),
				Category: string(core.CategoryValidation),
			})
			return
		}
		logger.DebugContext(ctx, "Upload without file field", log.FieldError, err.Error())
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file uploaded", Category: string(core.CategoryValidation)})
		return
	}
	defer file.Close()

	path, err := spoolUpload(s.uploadDir, file, header)
	if err == nil {
		var res services.Result
		res, err = s.ingest.IngestFile(ctx, key, path)
		if err == nil {
			s.appMetrics.recordUpload("")
			logger.InfoContext(ctx, "Upload stored", log.NewFields().
				WithOperation(log.OpUpload).
				WithPartition(key).
				WithUpload(header.Filename, header.Size).
				WithIngestResult(res.RecordsWritten, res.Duplicates, res.Checksum).
				ToSlice()...)
			writeJSON(w, http.StatusOK, uploadResponse{
				Message:        uploadSuccessMessage,
				RecordsWritten: res.RecordsWritten,
				Duplicates:     res.Duplicates,
				Checksum:       res.Checksum,
			})
			return
		}
	}

	category := core.Category(err)
	s.appMetrics.recordUpload(string(category))
	fields := log.NewFields().
		WithOperation(log.OpUpload).
		WithPartition(key).
		WithUpload(header.Filename, header.Size).
		WithError(err).
		ToSlice()
	if statusFor(category) >= 500 {
		logger.ErrorContext(ctx, "Upload failed", fields...)
	} else {
		logger.WarnContext(ctx, "Upload rejected", fields...)
	}
	writeJSON(w, statusFor(category), errorBody("Error processing file", err))
}

func (s *Server) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	key, err := partitionFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid partition", err))
		return
	}

	records, err := s.records.Records(r.Context(), key)
	if err != nil {
		s.readFailed(w, r, log.OpRead, key, err)
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordResponse{
			UserID:    rec.UserID,
			Year:      rec.Year,
			Month:     rec.Month,
			MonthName: core.MonthName(rec.Month),
			Amount:    json.Number(rec.Amount.String()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	key, err := partitionFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid partition", err))
		return
	}

	sum, err := s.records.Summary(r.Context(), key)
	if err != nil {
		s.readFailed(w, r, log.OpSummary, key, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		UserID:           sum.UserID,
		Year:             sum.Year,
		Count:            sum.Count,
		Total:            json.Number(sum.Total.StringFixed(2)),
		Average:          json.Number(sum.Average.StringFixed(2)),
		HighestMonth:     sum.HighestMonth,
		HighestMonthName: sum.HighestName,
		HighestAmount:    json.Number(sum.HighestAmount.StringFixed(2)),
	})
}

func (s *Server) handleDeletePartition(w http.ResponseWriter, r *http.Request) {
	key, err := partitionFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid partition", err))
		return
	}

	n, err := s.ingest.DeletePartition(r.Context(), key)
	if err != nil {
		s.readFailed(w, r, log.OpDelete, key, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Message: "Partition deleted", RecordsDeleted: n})
}

func (s *Server) handleListPartitions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	parts, err := s.records.Partitions(r.Context(), userID)
	if err != nil {
		if errors.Is(err, core.ErrInvalidPartition) {
			writeJSON(w, http.StatusBadRequest, errorBody("Invalid user", err))
			return
		}
		s.readFailed(w, r, log.OpList, core.PartitionKey{UserID: userID}, err)
		return
	}
	if parts == nil {
		parts = []core.PartitionInfo{}
	}
	writeJSON(w, http.StatusOK, partitionsResponse{UserID: userID, Partitions: parts})
}

func (s *Server) readFailed(w http.ResponseWriter, r *http.Request, op string, key core.PartitionKey, err error) {
	log.FromContext(r.Context()).WithComponent(log.ComponentHTTP).ErrorContext(r.Context(), "Request failed",
		log.NewFields().WithOperation(op).WithPartition(key).WithError(err).ToSlice()...)
	prefix := "Error retrieving data"
	if op == log.OpDelete {
		prefix = "Error deleting data"
	}
	writeJSON(w, statusFor(core.Category(err)), errorBody(prefix, err))
}
