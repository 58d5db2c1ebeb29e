package v1alpha1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/gradebook/records-api/api/v1alpha1"
	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/handlers/validator"
	"github.com/gradebook/records-api/internal/queue"
	"github.com/gradebook/records-api/internal/service"
	"github.com/gradebook/records-api/pkg/log"
)

// callback verifies the signature of a queue callback and resolves its kind.
// It answers the request itself when either is wrong.
func (h *ServiceHandler) callback(w http.ResponseWriter, r *http.Request) (batch.Kind, []byte, bool) {
	kind, err := batch.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		renderError(w, r, http.StatusNotFound, err.Error())
		return "", nil, false
	}
	body, err := h.verifier.VerifyRequest(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, queue.ErrInvalidSignature) {
			status = http.StatusUnauthorized
		}
		renderError(w, r, status, err.Error())
		return "", nil, false
	}
	return kind, body, true
}

// Process is the callback of a process message. It streams the file and
// publishes its chunks before answering.
func (h *ServiceHandler) Process(w http.ResponseWriter, r *http.Request) {
	kind, body, ok := h.callback(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := log.NewDebugLogger("batch_handler").WithContext(ctx).Operation("process").WithString("kind", kind.String()).Build()

	var req service.ProcessRequest
	if err := json.Unmarshal(body, &req); err != nil || req.JobID == "" {
		renderError(w, r, http.StatusBadRequest, "body must be {fileUrl, jobId}")
		return
	}

	total, err := h.processSrv.Process(ctx, kind, req)
	if err != nil {
		logger.Error(err).WithString("job_id", req.JobID).Log()
		renderServiceError(w, r, err)
		return
	}

	logger.Success().WithString("job_id", req.JobID).WithInt("total_rows", total).Log()
	_ = render.Render(w, r, api.ProcessResponse{Success: true, JobId: req.JobID, TotalRows: total})
}

// Ingest is the callback of a chunk message.
func (h *ServiceHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	kind, body, ok := h.callback(w, r)
	if !ok {
		return
	}

	switch kind {
	case batch.KindStudent:
		ingestChunk[batch.StudentRow](h, w, r, kind, body, h.ingestSrv.IngestStudents)
	case batch.KindSubject:
		ingestChunk[batch.SubjectRow](h, w, r, kind, body, h.ingestSrv.IngestSubjects)
	case batch.KindMark:
		ingestChunk[batch.MarkRow](h, w, r, kind, body, h.ingestSrv.IngestMarks)
	}
}

type ingestFunc[R any] func(ctx context.Context, jobID string, rows []R) (*service.IngestResult, error)

func ingestChunk[R any](h *ServiceHandler, w http.ResponseWriter, r *http.Request, kind batch.Kind, body []byte, ingest ingestFunc[R]) {
	ctx := r.Context()
	logger := log.NewDebugLogger("batch_handler").WithContext(ctx).Operation("ingest").WithString("kind", kind.String()).Build()

	var req service.IngestRequest[R]
	if err := json.Unmarshal(body, &req); err != nil || req.JobID == "" {
		renderError(w, r, http.StatusBadRequest, "body must be {jobId, rows}")
		return
	}
	for i, row := range req.Rows {
		if err := h.validator.Struct(row); err != nil {
			// an invalid row fails the whole job
			err = h.ingestSrv.RejectChunk(ctx, kind, req.JobID, rowError(i+1, err))
			logger.Error(err).WithString("job_id", req.JobID).Log()
			renderServiceError(w, r, err)
			return
		}
	}

	result, err := ingest(ctx, req.JobID, req.Rows)
	if err != nil {
		logger.Error(err).WithString("job_id", req.JobID).Log()
		renderServiceError(w, r, err)
		return
	}

	logger.Success().WithString("job_id", req.JobID).WithInt("inserted", result.InsertedCount).Log()
	_ = render.Render(w, r, api.IngestResponse{Success: true, Message: result.Message, InsertedCount: result.InsertedCount})
}

// rowError numbers a failed row from one within its chunk.
func rowError(row int, err error) *batch.ValidationError {
	rowErr := &batch.ValidationError{Row: row, Reason: err.Error()}
	var fieldErr *validator.ErrInvalidField
	if errors.As(err, &fieldErr) && fieldErr.Field != "" {
		rowErr.Column = fieldErr.Field
		rowErr.Reason = "failed " + fieldErr.Rule
	}
	return rowErr
}
