package synoapi

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CanonicalEndpoint reduces a base address to scheme://host[:port] in lower
// case so that equivalent spellings share one session.
func CanonicalEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", Validationf("endpoint", "base address is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", Validationf("endpoint", "invalid base address %q: %v", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", Validationf("endpoint", "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", Validationf("endpoint", "base address %q has no host", raw)
	}
	return fmt.Sprintf("%s://%s", scheme, strings.ToLower(u.Host)), nil
}

// NewHTTPClient returns the HTTP client used for one endpoint. Home NAS units
// commonly serve self-signed certificates, hence skipVerify.
func NewHTTPClient(timeout time.Duration, skipVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if skipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // user opt-in per endpoint
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
