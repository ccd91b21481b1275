package echoweb

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/tutorhive/webgate/core"
	"github.com/tutorhive/webgate/core/access"
	"github.com/tutorhive/webgate/core/identity"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

// newTestConf returns a gateway config with a stub UI upstream already wired;
// the upstream echoes the path it was asked to render.
func newTestConf(t *testing.T) *core.Config {
	t.Helper()

	conf := core.NewConfig()
	conf.Debug = true
	conf.TestMode = true
	conf.Backend.Timeout = time.Second
	conf.Backend.RetryBackoff = time.Millisecond

	us := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Rendered-By", "ui-upstream")
		_, _ = w.Write([]byte("page:" + r.URL.Path))
	}))
	t.Cleanup(us.Close)
	conf.Upstream.URL = us.URL
	return conf
}

func newServerFromConf(t *testing.T, conf *core.Config) Server {
	t.Helper()

	policy, err := access.NewPolicy(conf)
	if err != nil {
		t.Fatalf("NewPolicy() failed: %v", err)
	}

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)

	return NewServer(ServerDeps{
		Conf:        conf,
		Logger:      nopLogger{},
		Policy:      policy,
		IdentitySvc: identity.NewService(conf, nopLogger{}, validate, policy),
	})
}

// newTestServer wires a full gateway against an httptest backend.
func newTestServer(t *testing.T, backend http.Handler) Server {
	t.Helper()

	conf := newTestConf(t)
	if backend == nil {
		backend = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	bs := httptest.NewServer(backend)
	t.Cleanup(bs.Close)
	conf.Backend.URL = bs.URL

	return newServerFromConf(t, conf)
}

// whoAmIBackend answers the "who am I" endpoint with the given role and lets
// everything else succeed, recording sign-out calls.
func whoAmIBackend(role string, signOutCalled *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/me":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"id":"u1","email":"u1@x.io","role":"` + role + `"}}`))
		case "/auth/sign-out":
			http.SetCookie(w, &http.Cookie{Name: "better-auth.session_token", Value: "", Path: "/", MaxAge: -1})
			if signOutCalled != nil {
				*signOutCalled = true
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newRequest(method, path string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return req, rec
}

func addSessionCookie(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: "better-auth.session_token", Value: "sess-tok"})
}

func addRoleCookie(req *http.Request, role string) {
	req.AddCookie(&http.Cookie{Name: "user-role", Value: role})
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
