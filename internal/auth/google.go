package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// ErrInvalidCredential marks a Google token that failed verification.
var ErrInvalidCredential = errors.New("invalid google credential")

const (
	googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	googleUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// GoogleIdentity is the verified identity extracted from a Google token.
type GoogleIdentity struct {
	Subject    string
	Email      string
	Name       string
	Picture    string
	GivenName  string
	FamilyName string
}

// GoogleVerifier verifies Google-issued ID tokens and access tokens.
type GoogleVerifier struct {
	clientID     string
	httpClient   *http.Client
	tokenInfoURL string
	userInfoURL  string
}

// NewGoogleVerifier constructs a verifier for the given OAuth client id.
func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{
		clientID:     clientID,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		tokenInfoURL: googleTokenInfoURL,
		userInfoURL:  googleUserInfoURL,
	}
}

type googleTokenInfo struct {
	Issuer     string `json:"iss"`
	Audience   string `json:"aud"`
	Subject    string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Picture    string `json:"picture"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// VerifyIDToken validates an ID token against Google's tokeninfo endpoint and
// checks issuer and audience.
func (v *GoogleVerifier) VerifyIDToken(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	if v.clientID == "" {
		return nil, errors.New("google oauth client id is not configured")
	}

	endpoint := v.tokenInfoURL + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build tokeninfo request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call tokeninfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tokeninfo status %d", ErrInvalidCredential, resp.StatusCode)
	}

	var info googleTokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode tokeninfo: %w", err)
	}

	switch info.Issuer {
	case "accounts.google.com", "https://accounts.google.com":
	default:
		return nil, fmt.Errorf("%w: wrong issuer %q", ErrInvalidCredential, info.Issuer)
	}
	if info.Audience != v.clientID {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidCredential)
	}
	if info.Subject == "" || info.Email == "" {
		return nil, fmt.Errorf("%w: missing subject or email", ErrInvalidCredential)
	}

	return &GoogleIdentity{
		Subject:    info.Subject,
		Email:      info.Email,
		Name:       info.Name,
		Picture:    info.Picture,
		GivenName:  info.GivenName,
		FamilyName: info.FamilyName,
	}, nil
}

type googleUserInfo struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Picture    string `json:"picture"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// VerifyAccessToken fetches the user info behind a Google access token.
func (v *GoogleVerifier) VerifyAccessToken(ctx context.Context, accessToken string) (*GoogleIdentity, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	client := oauth2.NewClient(ctx, source)
	client.Timeout = v.httpClient.Timeout

	resp, err := client.Get(v.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("call userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", ErrInvalidCredential, resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.ID == "" || info.Email == "" {
		return nil, fmt.Errorf("%w: missing subject or email", ErrInvalidCredential)
	}

	return &GoogleIdentity{
		Subject:    info.ID,
		Email:      info.Email,
		Name:       info.Name,
		Picture:    info.Picture,
		GivenName:  info.GivenName,
		FamilyName: info.FamilyName,
	}, nil
}
