package middleware

import (
	"net/http"

	"github.com/jccalsado/tuition-portal/internal"
)

// StaffContext lifts the staff identity asserted by the upstream identity
// proxy into the request context. Authentication itself happens before
// this service.
func StaffContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if staffID := r.Header.Get("X-Staff-ID"); staffID != "" {
			r = r.WithContext(internal.ContextWithStaffID(r.Context(), staffID))
		}
		next.ServeHTTP(w, r)
	})
}
