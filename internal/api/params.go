package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	// defaultPageSize applies when the configuration leaves it unset.
	defaultPageSize = 10
	maxPageSize     = 500
)

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, ErrValueError.withMessage("id should be an integer")
	}
	return id, nil
}

// decodeJSON decodes a request body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return ErrInvalidInput.withMessage("request body too large")
		case errors.Is(err, io.EOF):
			return ErrInvalidJSONFormat.withMessage("request body is empty")
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			return ErrUnexpectedParams.withMessage(strings.TrimPrefix(err.Error(), "json: "))
		default:
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return ErrTypeError.withMessage(fmt.Sprintf("%s should be %s", typeErr.Field, typeErr.Type))
			}
			return ErrInvalidJSONFormat
		}
	}
	return nil
}

// missing builds the parameter-missing error for field.
func missing(field string) Error {
	return ErrParameterMissing.withMessage(ErrParameterMissing.Message + " `" + field + "`")
}

// pagination reads page and page_size. Page is clamped to at least 1; an
// absent or non-positive page size falls back to the server default.
func (s *Server) pagination(r *http.Request) (page, pageSize int, err error) {
	q := r.URL.Query()
	page, pageSize = 1, s.pageSize

	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil {
			return 0, 0, ErrValueError.withMessage("page and page_size should be a valid integer")
		}
		page = max(page, 1)
	}
	if v := q.Get("page_size"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil {
			return 0, 0, ErrValueError.withMessage("page and page_size should be a valid integer")
		}
		if pageSize <= 0 {
			pageSize = s.pageSize
		}
		pageSize = min(pageSize, maxPageSize)
	}
	return page, pageSize, nil
}

// splitList splits a comma-separated query value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pageResult is the data of a paginated listing.
type pageResult struct {
	Data     any `json:"data"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Size     int `json:"size"`
	Total    int `json:"total"`
}
