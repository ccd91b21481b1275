package echoweb

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendProxy(t *testing.T) {
	t.Run("strips the api prefix and forwards verbatim", func(t *testing.T) {
		var gotPath, gotMethod, gotCookie string
		srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotMethod = r.Method
			gotCookie = r.Header.Get("Cookie")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"data":{"id":"b1"}}`))
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/bookings", nil)
		addSessionCookie(req)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, "/bookings", gotPath)
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Contains(t, gotCookie, "better-auth.session_token=sess-tok")
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"data":{"id":"b1"}}`, rec.Body.String())
	})

	t.Run("api paths bypass the access filter", func(t *testing.T) {
		srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}))

		// no session at all; an api call must never be bounced to login
		req, rec := newRequest(http.MethodGet, "/api/tutors")
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Location"))
	})

	t.Run("unreachable backend is a bad gateway", func(t *testing.T) {
		bs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		bs.Close() // nothing listens there anymore

		conf := newTestConf(t)
		conf.Backend.URL = bs.URL
		srv := newServerFromConf(t, conf)

		req, rec := newRequest(http.MethodGet, "/api/tutors")
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestUpstreamProxy(t *testing.T) {
	srv := newTestServer(t, nil)

	req, rec := newRequest(http.MethodGet, "/tutors")
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ui-upstream", rec.Header().Get("X-Rendered-By"))
	assert.Equal(t, "page:/tutors", rec.Body.String())
}
