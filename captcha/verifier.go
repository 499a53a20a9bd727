// Package captcha abstracts proof-of-humanity verification. The login flow
// only needs a yes/no answer for a client-supplied solution token.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verifier checks a CAPTCHA solution token submitted by a client.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// ErrUnavailable is returned when the verification backend cannot be
// reached. Callers should fail closed.
var ErrUnavailable = errors.New("captcha: verification service unavailable")

// HTTPVerifier verifies tokens against a siteverify-style endpoint
// (hCaptcha and reCAPTCHA share this shape).
type HTTPVerifier struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewHTTPVerifier returns a verifier posting to endpoint with secret.
func NewHTTPVerifier(endpoint, secret string) (*HTTPVerifier, error) {
	if endpoint == "" || secret == "" {
		return nil, errors.New("captcha: endpoint and secret required")
	}
	return &HTTPVerifier{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if token == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, ErrUnavailable
	}

	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, ErrUnavailable
	}
	return body.Success, nil
}

// Static always answers the same verdict. Pass lets tests and local
// development skip the escalation; Fail exercises the rejection path.
type Static bool

const (
	Pass Static = true
	Fail Static = false
)

func (s Static) Verify(context.Context, string, string) (bool, error) {
	return bool(s), nil
}
