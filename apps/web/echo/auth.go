package echoweb

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tutorhive/webgate/core"
	"github.com/tutorhive/webgate/core/access"
)

// dashboardRedirect is the one place that performs the session -> role ->
// role cookie -> destination pipeline. It runs once after login so the edge
// filter can stay cookie-only on every other request.
//
// Idempotent: re-running it with the same session rewrites the same cookie
// and lands on the same destination.
func (s *server) dashboardRedirect(ctx echo.Context) error {
	req := ctx.Request()
	policy := s.deps.Policy

	creds := policy.CredentialsFromRequest(req)
	if !creds.HasSession {
		// anonymous; no point asking the backend
		return ctx.Redirect(http.StatusTemporaryRedirect, policy.LoginPath())
	}

	role, err := s.deps.IdentitySvc.CurrentRole(req.Context(), req.Header.Get("Cookie"))
	if err != nil {
		// fail closed: the worst a user ever sees is the login page
		s.deps.Logger.Warn("dashboard redirect: role resolution failed", err)
		return ctx.Redirect(http.StatusTemporaryRedirect, policy.LoginPath())
	}

	home, ok := policy.Home(role)
	if !ok {
		// a valid role the prefix table does not cover misroutes every
		// navigation; treat it as a deployment integrity failure
		return core.NewShutdownError("no home path configured for role " + role.String())
	}
	s.setRoleCookies(ctx, role)
	return ctx.Redirect(http.StatusTemporaryRedirect, home)
}

// logout forwards the sign-out to the backend and replays the backend's cookie
// deletions onto the response; a server-to-server sign-out alone would leave
// the session token alive in the browser. Every cookie the gateway knows about
// is cleared even when the backend call fails, so neither the session nor
// stale role state can leak into a later session on the same browser.
func (s *server) logout(ctx echo.Context) error {
	req := ctx.Request()
	cleared := make(map[string]bool)

	cookies, err := s.deps.IdentitySvc.SignOut(req.Context(), req.Header.Get("Cookie"))
	if err != nil {
		s.deps.Logger.Warn("logout: backend sign-out failed", err)
	}
	for _, c := range cookies {
		ctx.SetCookie(c)
		cleared[c.Name] = true
	}
	for _, name := range s.deps.Policy.SessionCookieNames() {
		if !cleared[name] {
			s.expireSessionCookie(ctx, name)
		}
	}
	s.clearRoleCookies(ctx)
	return ctx.Redirect(http.StatusTemporaryRedirect, s.deps.Policy.LoginPath())
}

// accessGuard lets the rendering layer bounce users whose live role does not
// match the layout being rendered. The answer comes from the backend, not
// the cookie cache, so render-time checks stay authoritative.
func (s *server) accessGuard(ctx echo.Context) error {
	expected, ok := access.ParseRole(ctx.QueryParam("role"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown role")
	}
	req := ctx.Request()
	loc := s.deps.IdentitySvc.RoleRedirectPath(req.Context(), req.Header.Get("Cookie"), expected)
	return ctx.JSON(http.StatusOK, echo.Map{"redirect": loc})
}

func (s *server) setRoleCookies(ctx echo.Context, role access.Role) {
	conf := s.deps.Conf
	policy := s.deps.Policy
	maxAge := int(conf.RoleCookie.MaxAge.Seconds())

	// not HttpOnly: the role cookie is a plain client-readable cache
	ctx.SetCookie(&http.Cookie{
		Name:     policy.RoleCookieName(),
		Value:    role.String(),
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   !conf.Debug,
		SameSite: http.SameSiteLaxMode,
	})
	ctx.SetCookie(&http.Cookie{
		Name:     policy.RoleTimestampCookieName(),
		Value:    strconv.FormatInt(time.Now().Unix(), 10),
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   !conf.Debug,
		SameSite: http.SameSiteLaxMode,
	})
}

// expireSessionCookie deletes a session cookie the backend's sign-out answer
// did not cover. The auth subsystem owns these cookies; writing them here is
// allowed only to destroy them.
func (s *server) expireSessionCookie(ctx echo.Context, name string) {
	ctx.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		// browsers drop __Secure- deletions that are not flagged Secure
		Secure:   strings.HasPrefix(name, "__Secure-") || !s.deps.Conf.Debug,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *server) clearRoleCookies(ctx echo.Context) {
	policy := s.deps.Policy
	for _, name := range []string{policy.RoleCookieName(), policy.RoleTimestampCookieName()} {
		ctx.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
