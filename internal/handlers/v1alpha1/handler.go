package v1alpha1

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/gradebook/records-api/api/v1alpha1"
	"github.com/gradebook/records-api/internal/handlers/v1alpha1/mappers"
	"github.com/gradebook/records-api/internal/handlers/validator"
	"github.com/gradebook/records-api/internal/queue"
	"github.com/gradebook/records-api/internal/service"
	"github.com/gradebook/records-api/pkg/requestid"
)

const defaultMaxUploadSize = 20 << 20

type ServiceHandler struct {
	jobSrv        *service.JobService
	processSrv    *service.ProcessService
	ingestSrv     *service.IngestService
	verifier      *queue.Verifier
	validator     *validator.Validator
	maxUploadSize int64
}

func NewServiceHandler(
	jobSrv *service.JobService,
	processSrv *service.ProcessService,
	ingestSrv *service.IngestService,
	verifier *queue.Verifier,
	maxUploadSize int64,
) *ServiceHandler {
	v := validator.NewValidator()
	v.Register(validator.NewUploadValidationRules()...)
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}

	return &ServiceHandler{
		jobSrv:        jobSrv,
		processSrv:    processSrv,
		ingestSrv:     ingestSrv,
		verifier:      verifier,
		validator:     v,
		maxUploadSize: maxUploadSize,
	}
}

// UserRoutes mounts the endpoints called by teachers. The caller installs
// authentication in front of them.
func (h *ServiceHandler) UserRoutes(r chi.Router) {
	r.Post("/api/v1/uploads", h.Upload)
	r.Post("/api/v1/uploads/ack", h.AckUpload)
	r.Get("/api/v1/jobs", h.ListJobs)
	r.Get("/api/v1/jobs/{id}", h.GetJob)
	r.Delete("/api/v1/jobs/files", h.PurgeJobFiles)
}

// QueueRoutes mounts the callbacks delivered by the queue. They are
// authenticated by the message signature only.
func (h *ServiceHandler) QueueRoutes(r chi.Router) {
	r.Post("/api/v1/batch/{kind}/process", h.Process)
	r.Post("/api/v1/batch/{kind}/ingest", h.Ingest)
}

func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	_ = render.Render(w, r, api.Health{Status: "ok"})
}

func requestID(r *http.Request) *string {
	id := requestid.FromRequest(r)
	if id == "" {
		return nil
	}
	return &id
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	_ = render.Render(w, r, api.NewError(status, msg, requestID(r)))
}

func statusOf(err error) int {
	var (
		notFound  *service.ErrResourceNotFound
		forbidden *service.ErrJobForbidden
		invalid   *service.ErrInvalidRequest
		field     *validator.ErrInvalidField
		exists    *service.ErrJobAlreadyExists
		failure   *service.FailureError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &invalid), errors.As(err, &field):
		return http.StatusBadRequest
	case errors.As(err, &exists):
		return http.StatusConflict
	case errors.As(err, &failure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrInvalidSignature):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// renderServiceError answers with the status matching err. A failed job is
// answered with its classification.
func renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var failure *service.FailureError
	if errors.As(err, &failure) {
		_ = render.Render(w, r, mappers.FailureToApi(failure))
		return
	}
	renderError(w, r, statusOf(err), err.Error())
}
