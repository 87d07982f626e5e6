package api

import (
	"net/http"
	"time"

	"apitables/internal/domain"
)

// ListFetches handles GET /fetches.
func (h *Handler) ListFetches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageFromQuery(q.Get("max_results"), q.Get("page_token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := domain.FetchHistoryFilter{
		Table:         strPtrIfNonEmpty(q.Get("table")),
		Status:        strPtrIfNonEmpty(q.Get("status")),
		PrincipalName: strPtrIfNonEmpty(q.Get("principal")),
		Page:          page,
	}
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, r, domain.ErrValidation("%s must be an RFC 3339 timestamp", key))
			return
		}
		*dst = &ts
	}

	recs, total, err := h.tables.ListFetches(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]FetchRecord, len(recs))
	for i, rec := range recs {
		out[i] = NewFetchRecord(rec)
	}
	writeJSON(w, http.StatusOK, FetchList{
		Fetches:       out,
		Total:         total,
		NextPageToken: page.NextToken(total),
	})
}
