package middleware_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jccalsado/tuition-portal/internal/transport/middleware"
)

var _ = Describe("RequestID", func() {
	It("assigns one trace id, visible to handlers and on the response", func() {
		var seen string
		handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = middleware.TraceID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))

		Expect(seen).NotTo(BeEmpty())
		Expect(rec.Header().Values("X-Trace-ID")).To(HaveLen(1))
		Expect(rec.Header().Get("X-Trace-ID")).To(Equal(seen))
	})

	It("honors an incoming trace id", func() {
		var seen string
		handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = middleware.TraceID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
		req.Header.Set("X-Trace-ID", "trace-abc-123")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(seen).To(Equal("trace-abc-123"))
		Expect(rec.Header().Get("X-Trace-ID")).To(Equal("trace-abc-123"))
	})
})
