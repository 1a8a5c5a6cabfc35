package cfapi

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// maxBodyExcerpt bounds the response body carried in errors
const maxBodyExcerpt = 200

// ErrNoProcess is returned when an application has no processes
var ErrNoProcess = errors.New("no process found on app")

// AuthError reports a failed password-grant exchange
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("UAA token error: %d %s", e.StatusCode, e.Body)
}

// Tier names a level of the org/space/app hierarchy
type Tier string

const (
	TierOrganization Tier = "organization"
	TierSpace        Tier = "space"
	TierApplication  Tier = "application"
)

// configKey is the roster field that names each tier
func (t Tier) configKey() string {
	switch t {
	case TierOrganization:
		return "ORG_NAME"
	case TierSpace:
		return "SPACE_NAME"
	default:
		return "APP_NAME"
	}
}

// ResolutionError reports a name lookup that returned no results
type ResolutionError struct {
	Tier Tier
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s not found: %s %q", e.Tier.configKey(), e.Tier, e.Name)
}

// APIError reports a non-2xx response from the control plane
type APIError struct {
	StatusCode int
	Method     string
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CF %s %d %s: %s", e.Method, e.StatusCode, e.Endpoint, e.Body)
}

// excerpt cuts body to at most maxBodyExcerpt bytes without splitting a
// UTF-8 sequence
func excerpt(body []byte) string {
	if len(body) <= maxBodyExcerpt {
		return string(body)
	}
	cut := maxBodyExcerpt
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut])
}
