package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseListParams(t *testing.T) {
	cases := []struct {
		name        string
		query       string
		wantPage    int
		wantPerPage int
	}{
		{"defaults", "", 1, 20},
		{"explicit", "page=3&per_page=50", 3, 50},
		{"zero page", "page=0", 1, 20},
		{"negative page", "page=-2", 1, 20},
		{"per_page over cap", "per_page=500", 1, 20},
		{"junk values", "page=abc&per_page=xyz", 1, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/firmware?"+tc.query, nil)
			p := ParseListParams(r)
			if p.Page != tc.wantPage || p.PerPage != tc.wantPerPage {
				t.Errorf("ParseListParams() = %+v, want page=%d per_page=%d", p, tc.wantPage, tc.wantPerPage)
			}
		})
	}
}

func TestListParamsOffset(t *testing.T) {
	p := ListParams{Page: 3, PerPage: 25}
	if got := p.Offset(); got != 50 {
		t.Errorf("Offset() = %d, want 50", got)
	}
}

func TestPaginatedEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Paginated(rec, http.StatusOK, []string{"a", "b"}, ListParams{Page: 1, PerPage: 2}, 5)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Data []string `json:"data"`
		Meta struct {
			Page    int  `json:"page"`
			PerPage int  `json:"per_page"`
			Total   int  `json:"total"`
			HasMore bool `json:"has_more"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data) != 2 {
		t.Errorf("data = %v, want 2 items", body.Data)
	}
	if body.Meta.Total != 5 || !body.Meta.HasMore {
		t.Errorf("meta = %+v, want total 5 with more pages", body.Meta)
	}

	rec = httptest.NewRecorder()
	Paginated(rec, http.StatusOK, []string{"e"}, ListParams{Page: 3, PerPage: 2}, 5)
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode last page: %v", err)
	}
	if body.Meta.HasMore {
		t.Error("has_more = true on the last page")
	}
}

func TestErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusNotFound, "firmware not found")

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "firmware not found" {
		t.Errorf("error = %q, want firmware not found", body["error"])
	}
}
