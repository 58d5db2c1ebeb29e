package mappers

import (
	api "github.com/gradebook/records-api/api/v1alpha1"
	"github.com/gradebook/records-api/internal/service"
	"github.com/gradebook/records-api/internal/store/model"
)

func JobToApi(job model.Job) api.Job {
	out := api.Job{
		Id:            job.ID,
		Kind:          job.Kind,
		FileUrl:       job.FileURL,
		FileName:      job.FileName,
		Status:        string(job.Status),
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		FileDeleted:   job.FileDeleted,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if failure := job.Failure(); failure != nil {
		out.Error = &api.JobError{
			Message:        failure.Message,
			Classification: failure.Classification,
			Context:        failure.Context,
			Detail:         failure.Detail,
			Timestamp:      failure.Timestamp,
		}
	}
	return out
}

// JobPageToApi never returns a nil job slice so an empty page encodes as [].
func JobPageToApi(page *service.JobPage) api.JobList {
	jobs := make([]api.Job, 0, len(page.Jobs))
	for _, j := range page.Jobs {
		jobs = append(jobs, JobToApi(j))
	}
	return api.JobList{
		Jobs:       jobs,
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: page.TotalPages(),
	}
}

func FailureToApi(f *service.FailureError) api.FailureResponse {
	return api.FailureResponse{
		Success:        false,
		Error:          f.Failure.Message,
		Classification: f.Failure.Classification,
		JobId:          f.JobID,
	}
}
