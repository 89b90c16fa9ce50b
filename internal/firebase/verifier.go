// Package firebase validates Firebase phone-auth ID tokens through the
// Identity Toolkit accounts:lookup endpoint. The endpoint checks
// signature, expiry and issuer on Google's side; this package only
// relays the verdict.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Identity is the verified external identity. It is ephemeral: produced
// per verification call and never persisted by this package.
type Identity struct {
	UID         string
	PhoneNumber string
	Email       string
}

// Verifier resolves an opaque ID token to an Identity. A nil Identity
// with a nil error means "invalid or expired token"; callers must not
// treat it as a system fault.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (*Identity, error)
}

type LookupVerifier struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewLookupVerifier(apiKey, endpoint string, timeout time.Duration) *LookupVerifier {
	return &LookupVerifier{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type lookupResponse struct {
	Users []struct {
		LocalID     string `json:"localId"`
		PhoneNumber string `json:"phoneNumber"`
		Email       string `json:"email"`
	} `json:"users"`
}

// Verify posts the token to accounts:lookup. Every failure mode
// (transport error, non-2xx status, malformed body, no matching
// account) maps to (nil, nil); the user retries the login action.
func (v *LookupVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	if idToken == "" {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]string{"idToken": idToken})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint+"?key="+url.QueryEscape(v.apiKey), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		log.Printf("firebase lookup request failed: %v", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil
	}

	var decoded lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		log.Printf("firebase lookup malformed response: %v", err)
		return nil, nil
	}
	if len(decoded.Users) == 0 {
		return nil, nil
	}

	user := decoded.Users[0]
	return &Identity{
		UID:         user.LocalID,
		PhoneNumber: user.PhoneNumber,
		Email:       user.Email,
	}, nil
}
