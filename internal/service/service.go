// Package service contains the business logic of keybridge.
//
//	Handler (HTTP) → Service (rules, orchestration) → Repository (SQLite)
//	                                                ↘ remote.Client (REST)
//
// LOCAL VS REMOTE:
// The remote sharing server is the source of truth for which keys exist; the
// local store is a mirror that keeps working when the network does not.
//   - Writes where the remote decides (issue a key, login, register, share)
//     abort when the remote call fails.
//   - Writes that are local facts (mark used) commit locally first; the
//     remote mirror is best effort and its failure is reported inline as a
//     RemoteFailure, never as an error.
//   - Reads always return local data and attach the remote view when it can
//     be fetched.
//
// The logged-in user is re-read from the store on every call. Nothing is
// cached between requests.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/repository"
)

// TokenChecker rejects access tokens that cannot possibly be accepted by
// the remote server. *auth.TokenInspector implements it.
type TokenChecker interface {
	Check(token string) error
}

// RemoteFailure describes a best-effort remote call that did not succeed.
type RemoteFailure struct {
	Operation  string `json:"operation"`
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message"`
	Body       any    `json:"body,omitempty"`
}

func newRemoteFailure(op string, err error) *RemoteFailure {
	f := &RemoteFailure{Operation: op, Message: err.Error()}

	var re *apperror.RemoteError
	if errors.As(err, &re) {
		f.StatusCode = re.StatusCode
		f.Body = re.Body
	}
	return f
}

// session is the logged-in user plus a token that passed TokenChecker.
type session struct {
	user  *model.User
	token string
}

// currentSession loads the single stored user and checks its token.
func currentSession(ctx context.Context, users repository.UserRepository, tokens TokenChecker) (*session, error) {
	user, err := users.GetOnlyUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading current user: %w", err)
	}
	if user == nil {
		return nil, apperror.Unauthenticated("no user logged in")
	}
	if !user.HasToken() {
		return nil, apperror.Unauthenticated("no access token, login first")
	}
	if err := tokens.Check(*user.Token); err != nil {
		return nil, err
	}

	return &session{user: user, token: *user.Token}, nil
}
