// Package auth inspects the access tokens the remote sharing server issues.
//
// The remote server signs its tokens with a key this process never sees, so
// nothing here verifies a signature. The only question asked locally is
// "is this token obviously dead?", so a request that would certainly be
// rejected never leaves the machine.
//
// TOKEN SHAPES:
//   - JWT (HEADER.PAYLOAD.SIGNATURE): the "exp" claim is read without
//     verification; an expired token is treated like no token at all.
//   - anything else: opaque, accepted as is and left for the server to judge.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/keybridge/internal/apperror"
)

// TokenInfo is what could be learned from a token without its signing key.
type TokenInfo struct {
	Subject   string
	ExpiresAt *time.Time
	Opaque    bool // not a JWT; nothing else is known
}

// TokenInspector reads access-token claims without verifying them.
type TokenInspector struct {
	parser *jwt.Parser
	now    func() time.Time
	leeway time.Duration
}

// NewTokenInspector creates a TokenInspector. leeway is subtracted from the
// expiry so tokens about to die are treated as dead already.
func NewTokenInspector(leeway time.Duration) *TokenInspector {
	return &TokenInspector{
		parser: jwt.NewParser(),
		now:    time.Now,
		leeway: leeway,
	}
}

// Inspect decodes token. A string that does not look like a JWT is reported
// as opaque; one that looks like a JWT but does not decode is an error.
func (i *TokenInspector) Inspect(token string) (*TokenInfo, error) {
	if strings.Count(token, ".") != 2 {
		return &TokenInfo{Opaque: true}, nil
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := i.parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("auth: decoding token: %w", err)
	}

	info := &TokenInfo{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		info.ExpiresAt = &exp
	}
	return info, nil
}

// Check returns apperror.ErrUnauthenticated when token is empty, malformed
// or expired, and nil otherwise.
func (i *TokenInspector) Check(token string) error {
	if token == "" {
		return apperror.Unauthenticated("no access token, login first")
	}

	info, err := i.Inspect(token)
	if err != nil {
		return &apperror.AppError{
			Err:     apperror.ErrUnauthenticated,
			Message: "stored access token is malformed, login again",
			Cause:   err,
		}
	}

	if info.ExpiresAt != nil && !i.now().Before(info.ExpiresAt.Add(-i.leeway)) {
		return &apperror.AppError{
			Err:     apperror.ErrUnauthenticated,
			Message: "access token expired, login again",
			Cause:   jwt.ErrTokenExpired,
		}
	}

	return nil
}
