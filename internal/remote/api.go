package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// AuthResult is what login and registration return.
type AuthResult struct {
	Username    string
	Email       string
	AccessToken string
	UserID      int64
}

// IssuedKey is a freshly minted analysis key.
type IssuedKey struct {
	Key            string
	KeyID          int64
	LocalSessionID int64
	UserID         int64
	ExpiresAt      *time.Time
	Raw            any // response body as received
}

// ShareReceipt confirms an uploaded snapshot.
type ShareReceipt struct {
	ReferenceID string
	Raw         any
}

// authResponse accepts both the flat and the nested user shapes the server
// has used.
type authResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	User        *struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
	Data *authResponse `json:"data"`
}

func (r *authResponse) result(fallbackEmail string) *AuthResult {
	if r.Data != nil {
		return r.Data.result(fallbackEmail)
	}
	out := &AuthResult{
		Username:    r.Username,
		Email:       r.Email,
		AccessToken: r.AccessToken,
		UserID:      r.UserID,
	}
	if out.AccessToken == "" {
		out.AccessToken = r.Token
	}
	if r.User != nil {
		if out.UserID == 0 {
			out.UserID = r.User.ID
		}
		if out.Username == "" {
			out.Username = r.User.Username
		}
		if out.Email == "" {
			out.Email = r.User.Email
		}
	}
	if out.Email == "" {
		out.Email = fallbackEmail
	}
	if out.Username == "" {
		out.Username = out.Email
	}
	return out
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var resp authResponse
	err := c.do(ctx, call{
		op:     "login",
		method: http.MethodPost,
		path:   "/auth/login",
		body:   map[string]string{"email": email, "password": password},
	}, &resp)
	if err != nil {
		return nil, err
	}

	res := resp.result(email)
	if res.AccessToken == "" {
		return nil, malformed("login", nil, "response has no access token")
	}
	return res, nil
}

// Register creates a remote account. username defaults to email.
func (c *Client) Register(ctx context.Context, email, password, username string) (*AuthResult, error) {
	if username == "" {
		username = email
	}

	var resp authResponse
	err := c.do(ctx, call{
		op:     "register",
		method: http.MethodPost,
		path:   "/auth/register",
		body: map[string]string{
			"email":    email,
			"password": password,
			"username": username,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	res := resp.result(email)
	if res.Username == email && username != email {
		res.Username = username
	}
	return res, nil
}

type issueKeyResponse struct {
	Key            string    `json:"key"`
	KeyID          int64     `json:"keyId"`
	ID             int64     `json:"id"`
	LocalSessionID int64     `json:"localSessionId"`
	UserID         int64     `json:"userId"`
	ExpiresAt      looseTime `json:"expiresAt"`
}

// expiryLayouts are tried in order; timestamps without a zone are UTC.
var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// looseTime accepts any of expiryLayouts. A value it cannot read leaves the
// time unset instead of failing the whole response: by the time it is
// decoded the server has already acted on the request.
type looseTime struct {
	t *time.Time
}

func (lt *looseTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			lt.t = &t
			return nil
		}
	}
	return nil
}

// IssueKey asks the server for a new analysis key for a local session.
func (c *Client) IssueKey(ctx context.Context, token string, userID, localSessionID int64) (*IssuedKey, error) {
	var raw json.RawMessage
	err := c.do(ctx, call{
		op:          "issue_key",
		method:      http.MethodPost,
		path:        "/keys",
		token:       token,
		requireAuth: true,
		body: map[string]int64{
			"userId":         userID,
			"localSessionId": localSessionID,
		},
	}, &raw)
	if err != nil {
		return nil, err
	}

	var resp issueKeyResponse
	if err := json.Unmarshal(unwrapData(raw), &resp); err != nil {
		return nil, malformed("issue_key", raw, fmt.Sprintf("decoding response: %v", err))
	}
	if resp.Key == "" {
		return nil, malformed("issue_key", raw, "response has no key")
	}

	out := &IssuedKey{
		Key:            resp.Key,
		KeyID:          resp.KeyID,
		LocalSessionID: resp.LocalSessionID,
		UserID:         resp.UserID,
		ExpiresAt:      resp.ExpiresAt.t,
	}
	if out.KeyID == 0 {
		out.KeyID = resp.ID
	}
	if out.LocalSessionID == 0 {
		out.LocalSessionID = localSessionID
	}
	if out.UserID == 0 {
		out.UserID = userID
	}
	_ = json.Unmarshal(raw, &out.Raw)

	return out, nil
}

// ListKeys returns the server's view of a user's keys, as received.
func (c *Client) ListKeys(ctx context.Context, token string, userID int64) (any, error) {
	var out any
	err := c.do(ctx, call{
		op:          "list_keys",
		method:      http.MethodGet,
		path:        "/keys/" + strconv.FormatInt(userID, 10),
		token:       token,
		requireAuth: true,
	}, &out)
	return out, err
}

// GetKey returns the server's view of one key, as received.
func (c *Client) GetKey(ctx context.Context, token, key string) (any, error) {
	var out any
	err := c.do(ctx, call{
		op:          "get_key",
		method:      http.MethodGet,
		path:        "/keys/" + url.PathEscape(key),
		token:       token,
		requireAuth: true,
	}, &out)
	return out, err
}

// MarkKeyUsed tells the server the key has been consumed.
func (c *Client) MarkKeyUsed(ctx context.Context, token, key string, usedAt time.Time) (any, error) {
	var out any
	err := c.do(ctx, call{
		op:          "mark_key_used",
		method:      http.MethodPatch,
		path:        "/keys/use/" + url.PathEscape(key),
		token:       token,
		requireAuth: true,
		body: map[string]any{
			"used":   true,
			"usedAt": usedAt.UTC().Format(time.RFC3339),
		},
	}, &out)
	return out, err
}

// ShareAnalysis uploads a snapshot and returns the server's reference id.
func (c *Client) ShareAnalysis(ctx context.Context, token string, payload map[string]any) (*ShareReceipt, error) {
	var raw json.RawMessage
	err := c.do(ctx, call{
		op:          "share_analysis",
		method:      http.MethodPost,
		path:        c.cfg.AnalysisEndpoint,
		token:       token,
		requireAuth: true,
		body:        payload,
	}, &raw)
	if err != nil {
		return nil, err
	}

	receipt := &ShareReceipt{}
	_ = json.Unmarshal(raw, &receipt.Raw)

	var ref struct {
		ID          any `json:"id"`
		ReferenceID any `json:"referenceId"`
	}
	if err := json.Unmarshal(unwrapData(raw), &ref); err == nil {
		switch {
		case ref.ID != nil:
			receipt.ReferenceID = fmt.Sprint(ref.ID)
		case ref.ReferenceID != nil:
			receipt.ReferenceID = fmt.Sprint(ref.ReferenceID)
		}
	}

	return receipt, nil
}

// GetAnalysisByKey fetches a shared analysis the user owns.
func (c *Client) GetAnalysisByKey(ctx context.Context, token, key string) (any, error) {
	var out any
	err := c.do(ctx, call{
		op:          "get_analysis",
		method:      http.MethodGet,
		path:        "/analysis/key/" + url.PathEscape(key),
		token:       token,
		requireAuth: true,
	}, &out)
	return out, err
}

// GetPublicAnalysisByKey fetches a shared analysis without credentials.
func (c *Client) GetPublicAnalysisByKey(ctx context.Context, key string) (any, error) {
	var out any
	err := c.do(ctx, call{
		op:     "get_public_analysis",
		method: http.MethodGet,
		path:   "/analysis/public/key/" + url.PathEscape(key),
	}, &out)
	return out, err
}

// unwrapData returns the "data" member when raw is an object that has one.
func unwrapData(raw []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		return env.Data
	}
	return raw
}
