package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/remote"
	"github.com/sakif/keybridge/internal/repository"
)

// AuthRemote is the part of the remote API that authenticates users.
type AuthRemote interface {
	Login(ctx context.Context, email, password string) (*remote.AuthResult, error)
	Register(ctx context.Context, email, password, username string) (*remote.AuthResult, error)
}

// AuthService logs the single local user in and out of the remote server.
//
// The remote server decides who may log in; this service only persists the
// outcome. Logging in as another email replaces the stored user (see
// repository.UserRepository.UpsertUser).
type AuthService struct {
	users  repository.UserRepository
	remote AuthRemote
	logger *slog.Logger
}

func NewAuthService(users repository.UserRepository, remote AuthRemote, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		remote: remote,
		logger: logger,
	}
}

// Login authenticates against the remote server and stores the user with
// the returned access token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	res, err := s.remote.Login(ctx, email, password)
	if err != nil {
		return nil, loginError(err)
	}

	user, err := s.store(ctx, res)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in",
		slog.Int64("serverUserID", user.ServerUserID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// Register creates the account remotely and stores it like Login does.
// username defaults to email.
func (s *AuthService) Register(ctx context.Context, email, password, username string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = email
	}

	res, err := s.remote.Register(ctx, email, password, username)
	if err != nil {
		return nil, fmt.Errorf("service/auth: registering %s: %w", email, err)
	}

	user, err := s.store(ctx, res)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.Int64("serverUserID", user.ServerUserID),
		slog.String("email", user.Email),
	)
	return user, nil
}

func (s *AuthService) store(ctx context.Context, res *remote.AuthResult) (*model.User, error) {
	in := model.UserUpsert{
		Username: res.Username,
		Email:    res.Email,
	}
	if res.AccessToken != "" {
		in.Token = &res.AccessToken
	}
	if res.UserID != 0 {
		in.ServerUserID = &res.UserID
	}

	user, err := s.users.UpsertUser(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("service/auth: storing user %s: %w", res.Email, err)
	}
	return user, nil
}

// loginError turns a credentials rejection into ErrUnauthenticated and
// leaves every other failure as it is.
func loginError(err error) error {
	var re *apperror.RemoteError
	if errors.As(err, &re) {
		switch re.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			msg := re.Message
			if msg == "" {
				msg = "invalid email or password"
			}
			return &apperror.AppError{
				Err:     apperror.ErrUnauthenticated,
				Message: msg,
				Cause:   re,
			}
		}
	}
	return fmt.Errorf("service/auth: login: %w", err)
}

// Logout forgets the stored access token. The user row stays.
func (s *AuthService) Logout(ctx context.Context) error {
	user, err := s.users.GetOnlyUser(ctx)
	if err != nil {
		return fmt.Errorf("service/auth: loading current user: %w", err)
	}
	if user == nil {
		return apperror.Unauthenticated("no user logged in")
	}

	if _, err := s.users.UpdateUserToken(ctx, user.Email, nil); err != nil {
		return fmt.Errorf("service/auth: clearing token of %s: %w", user.Email, err)
	}

	s.logger.Info("user logged out", slog.String("email", user.Email))
	return nil
}

// CurrentUser returns the stored user. The token never leaves this process
// (model.User does not serialize it).
func (s *AuthService) CurrentUser(ctx context.Context) (*model.User, error) {
	user, err := s.users.GetOnlyUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading current user: %w", err)
	}
	if user == nil {
		return nil, apperror.Unauthenticated("no user logged in")
	}
	return user, nil
}
