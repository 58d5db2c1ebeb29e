package mappers

import (
	"net/url"
	"strconv"

	api "github.com/gradebook/records-api/api/v1alpha1"
	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/service"
)

func AckRequestFromApi(req api.AckUploadRequest) (service.AckRequest, error) {
	kind, err := batch.ParseKind(req.Kind)
	if err != nil {
		return service.AckRequest{}, service.NewErrInvalidRequest("%s", err)
	}
	return service.AckRequest{
		JobID:    req.JobId,
		Kind:     kind,
		FileURL:  req.FileUrl,
		FileName: req.FileName,
	}, nil
}

// ListParamsFromQuery reads page, limit and search. Values that are not
// numbers fall back to the service defaults.
func ListParamsFromQuery(q url.Values) service.ListParams {
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return service.ListParams{
		Page:   page,
		Limit:  limit,
		Search: q.Get("search"),
	}
}
