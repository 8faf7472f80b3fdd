package relay

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	apperrors "github.com/maxdhml/pulse-coach-backend/internal/errors"
)

// RequestContext is what the relay needs to know about the inbound HTTP
// request. The boundary fills it in; the relay never sees *http.Request.
type RequestContext struct {
	Scheme         string
	Host           string
	UserAgent      string
	ForwardedProto string
	ForwardedHost  string
}

// RequestContextFrom extracts a RequestContext from r.
func RequestContextFrom(r *http.Request) RequestContext {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return RequestContext{
		Scheme:         scheme,
		Host:           r.Host,
		UserAgent:      r.UserAgent(),
		ForwardedProto: r.Header.Get("X-Forwarded-Proto"),
		ForwardedHost:  r.Header.Get("X-Forwarded-Host"),
	}
}

// firstHeaderValue returns the left-most entry of a comma separated
// forwarding header, which is the one set by the outermost proxy.
func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}

	return strings.TrimSpace(v)
}

// Origin returns scheme://host for the request, preferring forwarding
// headers when trustForwarded is set.
func (rc RequestContext) Origin(trustForwarded bool) string {
	scheme := strings.ToLower(strings.TrimSpace(rc.Scheme))
	host := strings.TrimSpace(rc.Host)

	if trustForwarded {
		if p := strings.ToLower(firstHeaderValue(rc.ForwardedProto)); p == "http" || p == "https" {
			scheme = p
		}

		if h := firstHeaderValue(rc.ForwardedHost); h != "" {
			host = h
		}
	}

	if scheme == "" {
		scheme = "http"
	}

	return scheme + "://" + host
}

// blockedSchemes can never be a return target: they would execute in
// the browser or read local files.
var blockedSchemes = []string{"javascript", "data", "vbscript", "file"}

// ValidateReturnTarget checks that target is an absolute URI with an
// acceptable scheme. It never rewrites the target. When allowed is
// non-empty the scheme must be listed.
func ValidateReturnTarget(target string, allowed []string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidReturnTarget, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return fmt.Errorf("%w: must be an absolute URI", apperrors.ErrInvalidReturnTarget)
	}

	if slices.Contains(blockedSchemes, scheme) {
		return fmt.Errorf("%w: scheme %q is not allowed", apperrors.ErrInvalidReturnTarget, scheme)
	}

	if len(allowed) > 0 && !slices.Contains(allowed, scheme) {
		return fmt.Errorf("%w: scheme %q is not in the allow list", apperrors.ErrInvalidReturnTarget, scheme)
	}

	if (scheme == "http" || scheme == "https") && u.Host == "" {
		return fmt.Errorf("%w: missing host", apperrors.ErrInvalidReturnTarget)
	}

	return nil
}
