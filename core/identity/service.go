package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tutorhive/webgate/core"
	"github.com/tutorhive/webgate/core/access"
)

const currentUserPath = "/user/me"

// Service resolves the authoritative role of the user behind a live session
// by asking the backend, forwarding the session cookie as proof.
type Service struct {
	client   *http.Client
	baseURL  string
	backoff  time.Duration
	logger   core.Logger
	validate *validator.Validate
	policy   *access.Policy
}

func NewService(conf *core.Config, logger core.Logger, validate *validator.Validate, policy *access.Policy) *Service {
	return &Service{
		client:   &http.Client{Timeout: conf.Backend.Timeout},
		baseURL:  conf.Backend.URL,
		backoff:  conf.Backend.RetryBackoff,
		logger:   logger,
		validate: validate,
		policy:   policy,
	}
}

// CurrentRole returns the role of the user owning the session carried in
// cookieHeader. It never panics and never writes anything; on any failure
// (network, non-2xx, unexpected payload shape) it returns an error and the
// caller decides the fallback - fail closed, per the access design.
func (s *Service) CurrentRole(ctx context.Context, cookieHeader string) (access.Role, error) {
	body, err := s.get(ctx, currentUserPath, cookieHeader)
	if err != nil {
		return "", errors.Wrap(err, "fetching current user")
	}

	var res currentUserResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", core.NewValidationError(errors.Wrap(err, "decoding current user payload"))
	}
	if err := s.validate.Struct(&res); err != nil {
		return "", core.NewValidationError(errors.Wrap(err, "unexpected current user payload shape"))
	}

	role, ok := access.ParseRole(res.Data.Role)
	if !ok {
		return "", core.NewValidationError(
			errors.Errorf("unknown role %q for user %s", res.Data.Role, res.Data.ID),
			core.FieldError{Field: "role", Error: "unknown role"},
		)
	}
	return role, nil
}

// RoleRedirectPath is the guard helper for server-rendered layouts: it
// returns the login path when no role resolves, the actual role's home when
// it differs from expected, and "" when the user is where they belong.
func (s *Service) RoleRedirectPath(ctx context.Context, cookieHeader string, expected access.Role) string {
	role, err := s.CurrentRole(ctx, cookieHeader)
	if err != nil {
		s.logger.Warn("role lookup failed, guarding closed", err)
		return s.policy.LoginPath()
	}
	if role != expected {
		return s.policy.HomePath(role)
	}
	return ""
}

// SignOut asks the backend to invalidate the session carried in cookieHeader.
// This is a server-to-server call, so the backend's Set-Cookie deletions never
// reach the browser on their own; they are returned for the caller to replay
// onto its own response, otherwise the dead session token survives client-side.
func (s *Service) SignOut(ctx context.Context, cookieHeader string) ([]*http.Cookie, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/sign-out", nil)
	if err != nil {
		return nil, errors.Wrap(err, "building sign-out request")
	}
	req.Header.Set("Cookie", cookieHeader)
	req.Header.Set("X-Request-ID", uuid.New().String())

	res, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling backend sign-out")
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, errors.Errorf("backend sign-out returned %d", res.StatusCode)
	}
	return res.Cookies(), nil
}

// get performs a cookie-authenticated backend GET with one retry on transport
// errors and 5xx responses, so a hiccup does not log a user out.
func (s *Service) get(ctx context.Context, path, cookieHeader string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying backend call", map[string]interface{}{"path": path})
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, retryable, err := s.getOnce(ctx, path, cookieHeader)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (s *Service) getOnce(ctx context.Context, path, cookieHeader string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "building backend request")
	}
	// server-to-server call; the browser is not there to attach cookies
	req.Header.Set("Cookie", cookieHeader)
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("X-Request-ID", uuid.New().String())

	res, err := s.client.Do(req)
	if err != nil {
		return nil, true, errors.Wrapf(err, "calling backend %s", path)
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		return nil, true, errors.Errorf("backend %s returned %d", path, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, false, errors.Errorf("backend %s returned %d", path, res.StatusCode)
	}

	body, err = io.ReadAll(res.Body)
	if err != nil {
		return nil, false, errors.Wrap(err, "reading backend response")
	}
	return body, false, nil
}
