package v1alpha1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/gradebook/records-api/api/v1alpha1"
	"github.com/gradebook/records-api/internal/auth"
	"github.com/gradebook/records-api/internal/handlers/v1alpha1/mappers"
	"github.com/gradebook/records-api/pkg/log"
)

func (h *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.NewDebugLogger("job_handler").WithContext(ctx).Operation("list_jobs").Build()
	user := auth.MustHaveUser(ctx)

	page, err := h.jobSrv.List(ctx, user, mappers.ListParamsFromQuery(r.URL.Query()))
	if err != nil {
		logger.Error(err).Log()
		renderError(w, r, http.StatusInternalServerError, fmt.Sprintf("failed to list jobs: %v", err))
		return
	}

	logger.Success().WithInt("count", len(page.Jobs)).Log()
	_ = render.Render(w, r, mappers.JobPageToApi(page))
}

func (h *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	logger := log.NewDebugLogger("job_handler").WithContext(ctx).Operation("get_job").WithString("job_id", id).Build()
	user := auth.MustHaveUser(ctx)

	job, err := h.jobSrv.Get(ctx, user, id)
	if err != nil {
		logger.Error(err).Log()
		renderServiceError(w, r, err)
		return
	}

	logger.Success().Log()
	_ = render.Render(w, r, mappers.JobToApi(*job))
}

// PurgeJobFiles deletes the stored files of the given jobs. Files that could
// not be deleted are reported with a 500 next to the counts of those that were.
func (h *ServiceHandler) PurgeJobFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.NewDebugLogger("job_handler").WithContext(ctx).Operation("purge_job_files").Build()
	user := auth.MustHaveUser(ctx)

	var body api.PurgeFilesRequest
	if err := render.Bind(r, &body); err != nil {
		renderError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if err := h.validator.Struct(body); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.jobSrv.PurgeFiles(ctx, user, body.JobIds)
	if err != nil && result == nil {
		logger.Error(err).Log()
		renderServiceError(w, r, err)
		return
	}

	resp := api.PurgeFilesResponse{
		Success:      err == nil,
		FilesDeleted: result.FilesDeleted,
		JobsUpdated:  result.JobsUpdated,
		JobsSkipped:  result.Skipped,
	}
	if err != nil {
		logger.Error(err).Log()
		resp.Error = err.Error()
	} else {
		logger.Success().WithInt("files_deleted", result.FilesDeleted).Log()
	}
	_ = render.Render(w, r, resp)
}
