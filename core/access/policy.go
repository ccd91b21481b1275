package access

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tutorhive/webgate/core"
)

// timestampSuffix derives the companion cookie recording when the role cookie
// was written, so its age can bound how long the cached role is trusted.
const timestampSuffix = "-ts"

type (
	// Credentials is everything the edge filter may learn about a request
	// without any I/O: cookie presence only, never validity.
	Credentials struct {
		HasSession   bool
		Role         Role      // empty when no (or an unparsable) role cookie
		RoleCachedAt time.Time // zero when the timestamp cookie is absent
	}

	// Decision is the outcome of resolving a request path against the policy.
	Decision struct {
		Redirect bool
		Location string
	}

	// Policy is the single source of truth for session/role checks, consumed
	// by both the edge filter and the guard endpoint so the two cannot drift.
	Policy struct {
		prefixes        map[Role]string
		authPaths       map[string]struct{}
		loginPath       string
		resolvePath     string
		skipPrefixes    []string
		sessionCookies  []string
		roleCookie      string
		revalidateAfter time.Duration
	}
)

var allow = Decision{}

func redirectTo(path string) Decision {
	return Decision{Redirect: true, Location: path}
}

// NewPolicy builds the access policy from config. A malformed prefix table is
// a deployment-time defect, so it fails here rather than at request time.
func NewPolicy(conf *core.Config) (*Policy, error) {
	p := &Policy{
		prefixes:        make(map[Role]string, len(conf.Access.ProtectedPrefixes)),
		authPaths:       make(map[string]struct{}, len(conf.Access.AuthPaths)),
		loginPath:       conf.Access.LoginPath,
		resolvePath:     conf.Access.ResolvePath,
		skipPrefixes:    conf.Access.SkipPrefixes,
		sessionCookies:  []string{conf.Session.CookieName, conf.Session.SecureCookieName},
		roleCookie:      conf.RoleCookie.Name,
		revalidateAfter: conf.Access.RoleRevalidateAfter,
	}
	for roleStr, prefix := range conf.Access.ProtectedPrefixes {
		role, ok := ParseRole(roleStr)
		if !ok {
			return nil, errors.Errorf("access policy: unknown role %q in protected prefixes", roleStr)
		}
		if !strings.HasPrefix(prefix, "/") {
			return nil, errors.Errorf("access policy: prefix %q for role %s must start with /", prefix, role)
		}
		p.prefixes[role] = prefix
	}
	if len(p.prefixes) == 0 {
		return nil, errors.New("access policy: no protected prefixes configured")
	}
	for _, path := range conf.Access.AuthPaths {
		p.authPaths[path] = struct{}{}
	}
	if p.loginPath == "" || p.resolvePath == "" {
		return nil, errors.New("access policy: login and resolve paths are required")
	}
	return p, nil
}

func (p *Policy) LoginPath() string   { return p.loginPath }
func (p *Policy) ResolvePath() string { return p.resolvePath }

func (p *Policy) RoleCookieName() string { return p.roleCookie }

func (p *Policy) RoleTimestampCookieName() string { return p.roleCookie + timestampSuffix }

// SessionCookieNames lists the cookie names that may carry the session token.
func (p *Policy) SessionCookieNames() []string {
	return append([]string(nil), p.sessionCookies...)
}

// Home returns the configured dashboard prefix for a role.
func (p *Policy) Home(role Role) (string, bool) {
	prefix, ok := p.prefixes[role]
	return prefix, ok
}

// HomePath returns the dashboard home for a role, or the login path when the
// role has no configured prefix.
func (p *Policy) HomePath(role Role) string {
	if prefix, ok := p.Home(role); ok {
		return prefix
	}
	return p.loginPath
}

// Skip reports whether the edge filter should ignore a path entirely:
// backend API passthrough, static assets and other non-navigable paths.
// This is a performance concern, not a security boundary.
func (p *Policy) Skip(path string) bool {
	for _, prefix := range p.skipPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	// files with an extension (images, scripts, ...) are never pages
	return strings.Contains(path[strings.LastIndexByte(path, '/')+1:], ".")
}

// CredentialsFromRequest extracts the request's access credentials from its
// cookies. Presence only: the session token is opaque and never validated here.
func (p *Policy) CredentialsFromRequest(r *http.Request) Credentials {
	var creds Credentials
	for _, name := range p.sessionCookies {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			creds.HasSession = true
			break
		}
	}
	if c, err := r.Cookie(p.roleCookie); err == nil {
		if role, ok := ParseRole(c.Value); ok {
			creds.Role = role
		}
	}
	if c, err := r.Cookie(p.RoleTimestampCookieName()); err == nil {
		if secs, err := strconv.ParseInt(c.Value, 10, 64); err == nil {
			creds.RoleCachedAt = time.Unix(secs, 0)
		}
	}
	return creds
}

// Resolve runs the ordered decision table; the first matching rule wins.
//
//  1. anonymous on a protected path        -> login, carrying the origin path
//  2. authenticated on an auth-only path   -> resolve endpoint (role unknown here)
//  3. cached role vs another role's prefix -> that role's own home
//  4. cached role past its trust window    -> resolve endpoint to re-validate
//  5. anything else                        -> allow
func (p *Policy) Resolve(path string, creds Credentials) Decision {
	owner, protected := p.matchProtected(path)

	if !creds.HasSession {
		if protected {
			q := make(url.Values)
			q.Set("from", path)
			return redirectTo(p.loginPath + "?" + q.Encode())
		}
		return allow
	}

	if _, ok := p.authPaths[path]; ok {
		return redirectTo(p.resolvePath)
	}

	if protected && creds.Role != "" {
		if creds.Role != owner {
			return redirectTo(p.HomePath(creds.Role))
		}
		if p.stale(creds) {
			return redirectTo(p.resolvePath)
		}
	}

	return allow
}

// matchProtected reports which role owns the path's prefix. Matching is on
// whole path segments so e.g. the resolve endpoint does not count as a
// protected student path.
func (p *Policy) matchProtected(path string) (Role, bool) {
	for role, prefix := range p.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return role, true
		}
	}
	return "", false
}

// stale reports whether the cached role has outlived its trust window.
// A role cookie without a timestamp is trusted as-is: the timestamp is an
// internal refinement, not part of the role cookie contract.
func (p *Policy) stale(creds Credentials) bool {
	if p.revalidateAfter <= 0 || creds.RoleCachedAt.IsZero() {
		return false
	}
	return time.Since(creds.RoleCachedAt) > p.revalidateAfter
}
