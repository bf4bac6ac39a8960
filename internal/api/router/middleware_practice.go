package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/practicekit/booking-engine/internal/tenancy"
)

const practiceHeader = "X-Practice-Id"

// requirePracticeID enforces multi-tenancy on API requests. The practice id
// comes from the route; the header is accepted as a fallback for clients that
// address a generic mount.
func requirePracticeID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		practiceID := chi.URLParam(r, "practiceID")
		if practiceID == "" {
			practiceID = strings.TrimSpace(r.Header.Get(practiceHeader))
		}
		if practiceID == "" {
			http.Error(w, "missing practice id", http.StatusBadRequest)
			return
		}
		ctx := tenancy.WithPracticeID(r.Context(), practiceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
