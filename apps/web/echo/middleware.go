package echoweb

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// accessFilter is the edge request filter: it gates every navigation before
// any handler runs, using cookies only - no network call on the hot path.
// It emits redirects or passes through; it never mutates cookies.
func (s *server) accessFilter() echo.MiddlewareFunc {
	policy := s.deps.Policy
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			path := req.URL.Path
			if policy.Skip(path) {
				return next(ctx)
			}
			if d := policy.Resolve(path, policy.CredentialsFromRequest(req)); d.Redirect {
				return ctx.Redirect(http.StatusTemporaryRedirect, d.Location)
			}
			return next(ctx)
		}
	}
}
