package echoweb

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDashboardRedirect(t *testing.T) {
	t.Run("no session goes straight to login, no backend call", func(t *testing.T) {
		var backendHit bool
		srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			backendHit = true
		}))

		req, rec := newRequest(http.MethodGet, "/dashboard-redirect")
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
		assert.Nil(t, findCookie(rec, "user-role"))
		assert.False(t, backendHit)
	})

	tests := []struct {
		role string
		want string
	}{
		{"STUDENT", "/dashboard"},
		{"TUTOR", "/tutor-dashboard"},
		{"ADMIN", "/admin-dashboard"},
	}
	for _, tt := range tests {
		t.Run("role "+tt.role+" lands on "+tt.want, func(t *testing.T) {
			srv := newTestServer(t, whoAmIBackend(tt.role, nil))

			req, rec := newRequest(http.MethodGet, "/dashboard-redirect")
			addSessionCookie(req)
			srv.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Location"))

			role := findCookie(rec, "user-role")
			if assert.NotNil(t, role) {
				assert.Equal(t, tt.role, role.Value)
				assert.Equal(t, "/", role.Path)
				assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), role.MaxAge)
				assert.False(t, role.HttpOnly)
				assert.False(t, role.Secure) // debug build
				assert.Equal(t, http.SameSiteLaxMode, role.SameSite)
			}

			ts := findCookie(rec, "user-role-ts")
			if assert.NotNil(t, ts) {
				secs, err := strconv.ParseInt(ts.Value, 10, 64)
				assert.NoError(t, err)
				assert.WithinDuration(t, time.Now(), time.Unix(secs, 0), time.Minute)
			}
		})
	}

	t.Run("idempotent for the same session", func(t *testing.T) {
		srv := newTestServer(t, whoAmIBackend("STUDENT", nil))

		var locations, values []string
		for i := 0; i < 2; i++ {
			req, rec := newRequest(http.MethodGet, "/dashboard-redirect")
			addSessionCookie(req)
			srv.ServeHTTP(rec, req)
			locations = append(locations, rec.Header().Get("Location"))
			values = append(values, findCookie(rec, "user-role").Value)
		}
		assert.Equal(t, locations[0], locations[1])
		assert.Equal(t, values[0], values[1])
	})

	t.Run("backend failure fails closed to login without a role cookie", func(t *testing.T) {
		srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))

		req, rec := newRequest(http.MethodGet, "/dashboard-redirect")
		addSessionCookie(req)
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
		assert.Nil(t, findCookie(rec, "user-role"))
	})

	t.Run("a role missing from the prefix table signals shutdown", func(t *testing.T) {
		conf := newTestConf(t)
		conf.Access.ProtectedPrefixes = map[string]string{
			"STUDENT": "/dashboard",
			"TUTOR":   "/tutor-dashboard",
		}
		bs := httptest.NewServer(whoAmIBackend("ADMIN", nil))
		t.Cleanup(bs.Close)
		conf.Backend.URL = bs.URL
		srv := newServerFromConf(t, conf)

		req, rec := newRequest(http.MethodGet, "/dashboard-redirect")
		addSessionCookie(req)
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Nil(t, findCookie(rec, "user-role"))
		select {
		case <-srv.ShutdownSignal():
		default:
			t.Error("expected a shutdown signal")
		}
	})

	t.Run("unexpected payload shape fails closed to login", func(t *testing.T) {
		srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"user":{"id":"u1","role":"STUDENT"}}`))
		}))

		req, rec := newRequest(http.MethodGet, "/dashboard-redirect")
		addSessionCookie(req)
		srv.ServeHTTP(rec, req)

		assert.Equal(t, "/login", rec.Header().Get("Location"))
		assert.Nil(t, findCookie(rec, "user-role"))
	})
}

func TestLogout(t *testing.T) {
	expiredCookies := []string{
		"better-auth.session_token",
		"__Secure-better-auth.session_token",
		"user-role",
		"user-role-ts",
	}

	t.Run("signs out at the backend and expires session and role cookies", func(t *testing.T) {
		var signedOut bool
		srv := newTestServer(t, whoAmIBackend("STUDENT", &signedOut))

		req, rec := newRequest(http.MethodPost, "/logout")
		addSessionCookie(req)
		addRoleCookie(req, "STUDENT")
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
		assert.True(t, signedOut)

		for _, name := range expiredCookies {
			c := findCookie(rec, name)
			if assert.NotNil(t, c, name) {
				assert.Empty(t, c.Value)
				assert.True(t, c.MaxAge < 0, "cookie %s should be expired", name)
			}
		}
	})

	t.Run("expires all cookies even when the backend is down", func(t *testing.T) {
		srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))

		req, rec := newRequest(http.MethodGet, "/logout")
		addSessionCookie(req)
		addRoleCookie(req, "TUTOR")
		srv.ServeHTTP(rec, req)

		assert.Equal(t, "/login", rec.Header().Get("Location"))
		for _, name := range expiredCookies {
			c := findCookie(rec, name)
			if assert.NotNil(t, c, name) {
				assert.Empty(t, c.Value)
				assert.True(t, c.MaxAge < 0, "cookie %s should be expired", name)
			}
		}
	})

	t.Run("secure session deletions are flagged Secure", func(t *testing.T) {
		srv := newTestServer(t, whoAmIBackend("STUDENT", nil))

		req, rec := newRequest(http.MethodPost, "/logout")
		addSessionCookie(req)
		srv.ServeHTTP(rec, req)

		c := findCookie(rec, "__Secure-better-auth.session_token")
		if assert.NotNil(t, c) {
			assert.True(t, c.Secure)
		}
	})
}

func TestAccessGuard(t *testing.T) {
	t.Run("matching role has nowhere to go", func(t *testing.T) {
		srv := newTestServer(t, whoAmIBackend("TUTOR", nil))

		req, rec := newRequest(http.MethodGet, "/access/guard?role=TUTOR")
		addSessionCookie(req)
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"redirect":""}`, rec.Body.String())
	})

	t.Run("mismatched role is sent to its own home", func(t *testing.T) {
		srv := newTestServer(t, whoAmIBackend("STUDENT", nil))

		req, rec := newRequest(http.MethodGet, "/access/guard?role=TUTOR")
		addSessionCookie(req)
		srv.ServeHTTP(rec, req)

		assert.JSONEq(t, `{"redirect":"/dashboard"}`, rec.Body.String())
	})

	t.Run("lookup failure guards to login", func(t *testing.T) {
		srv := newTestServer(t, nil)

		req, rec := newRequest(http.MethodGet, "/access/guard?role=ADMIN")
		addSessionCookie(req)
		srv.ServeHTTP(rec, req)

		assert.JSONEq(t, `{"redirect":"/login"}`, rec.Body.String())
	})

	t.Run("unknown role is a bad request", func(t *testing.T) {
		srv := newTestServer(t, nil)

		req, rec := newRequest(http.MethodGet, "/access/guard?role=PRINCIPAL")
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
