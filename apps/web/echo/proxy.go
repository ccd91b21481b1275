package echoweb

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// registerProxies wires the two passthroughs: /api/* to the backend API and
// every other allowed navigation to the UI rendering service. Both are plain
// reverse proxies; the gateway adds no behavior beyond the access filter.
func (s *server) registerProxies() {
	backend, err := s.newProxy(s.deps.Conf.Backend.URL, "/api")
	if err != nil {
		s.deps.Logger.Fatal("bad backend url", errors.Wrap(err, "parsing backend url"))
		return
	}
	upstream, err := s.newProxy(s.deps.Conf.Upstream.URL, "")
	if err != nil {
		s.deps.Logger.Fatal("bad upstream url", errors.Wrap(err, "parsing upstream url"))
		return
	}

	s.app.Any("/api/*", echo.WrapHandler(backend))
	s.app.Any("/*", echo.WrapHandler(upstream))
}

// newProxy builds a reverse proxy to rawURL. stripPrefix is removed from the
// incoming path before the target's own base path is prepended, so
// /api/user/me lands on <backend>/user/me regardless of the backend's base.
func (s *server) newProxy(rawURL, stripPrefix string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		if stripPrefix != "" {
			req.URL.Path = strings.TrimPrefix(req.URL.Path, stripPrefix)
			if req.URL.Path == "" {
				req.URL.Path = "/"
			}
		}
		director(req)
		req.Host = target.Host
	}

	logger := s.deps.Logger
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", errors.Wrapf(err, "proxying %s %s", r.Method, r.URL.Path))
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}
	return proxy, nil
}
