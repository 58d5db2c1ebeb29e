package v1alpha1

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	api "github.com/gradebook/records-api/api/v1alpha1"
	"github.com/gradebook/records-api/internal/auth"
	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/handlers/v1alpha1/mappers"
	"github.com/gradebook/records-api/internal/service"
	"github.com/gradebook/records-api/pkg/log"
)

const multipartMemory = 8 << 20

// Upload stores a multipart file (fields "type" and "file") and
// acknowledges it.
func (h *ServiceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.NewDebugLogger("upload_handler").WithContext(ctx).Operation("upload").Build()
	user := auth.MustHaveUser(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			renderError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUploadSize))
			return
		}
		renderError(w, r, http.StatusBadRequest, fmt.Sprintf("failed to read multipart form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	kind, err := batch.ParseKind(r.FormValue("type"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	job, err := h.jobSrv.Upload(ctx, user, service.UploadRequest{
		Kind:        kind,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		logger.Error(err).Log()
		renderServiceError(w, r, err)
		return
	}

	logger.Success().WithString("job_id", job.ID).Log()
	_ = render.Render(w, r, api.AckUploadResponse{
		Message:   "Processing file",
		JobId:     job.ID,
		JobStatus: string(job.Status),
	})
}

// AckUpload creates the job of a file that was stored out of band.
func (h *ServiceHandler) AckUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.NewDebugLogger("upload_handler").WithContext(ctx).Operation("ack_upload").Build()
	user := auth.MustHaveUser(ctx)

	var body api.AckUploadRequest
	if err := render.Bind(r, &body); err != nil {
		renderError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if err := h.validator.Struct(body); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req, err := mappers.AckRequestFromApi(body)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	job, err := h.jobSrv.Acknowledge(ctx, user, req)
	if err != nil {
		logger.Error(err).Log()
		renderServiceError(w, r, err)
		return
	}

	logger.Success().WithString("job_id", job.ID).Log()
	_ = render.Render(w, r, api.AckUploadResponse{
		Message:   "Processing file",
		JobId:     job.ID,
		JobStatus: string(job.Status),
	})
}
