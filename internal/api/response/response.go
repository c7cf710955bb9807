package response

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ListParams carries the paging window a list endpoint was asked for.
type ListParams struct {
	Page    int
	PerPage int
}

// Offset converts the page window into a row offset for repositories.
func (p ListParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// ParseListParams reads page/per_page from the query string, clamping
// nonsense values to the defaults.
func ParseListParams(r *http.Request) ListParams {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	return ListParams{Page: page, PerPage: perPage}
}

type listMeta struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

type listEnvelope struct {
	Data interface{} `json:"data"`
	Meta listMeta    `json:"meta"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// Paginated wraps a list payload with its paging metadata.
func Paginated(w http.ResponseWriter, status int, data interface{}, p ListParams, total int) {
	JSON(w, status, listEnvelope{
		Data: data,
		Meta: listMeta{
			Page:    p.Page,
			PerPage: p.PerPage,
			Total:   total,
			HasMore: p.Page*p.PerPage < total,
		},
	})
}
