package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/repository"
)

// RegistryService manages the list of known remote sharing servers.
type RegistryService struct {
	servers repository.ServerRepository
	logger  *slog.Logger
}

func NewRegistryService(servers repository.ServerRepository, logger *slog.Logger) *RegistryService {
	return &RegistryService{servers: servers, logger: logger}
}

// Add registers a server. The URL must be absolute http(s) and unique.
func (s *RegistryService) Add(ctx context.Context, rawURL, description string) (*model.Server, error) {
	rawURL = strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if rawURL == "" {
		return nil, apperror.ValidationFailed("url", "url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperror.ValidationFailed("url", "url must be an absolute http(s) URL")
	}

	srv := &model.Server{URL: rawURL, Description: strings.TrimSpace(description)}
	if err := s.servers.AddServer(ctx, srv); err != nil {
		return nil, fmt.Errorf("service/registry: adding %s: %w", rawURL, err)
	}

	s.logger.Info("server registered", slog.Int64("id", srv.ID), slog.String("url", srv.URL))
	return srv, nil
}

func (s *RegistryService) List(ctx context.Context) ([]model.Server, error) {
	servers, err := s.servers.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/registry: listing servers: %w", err)
	}
	return servers, nil
}

func (s *RegistryService) Get(ctx context.Context, id int64) (*model.Server, error) {
	srv, err := s.servers.GetServer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/registry: getting server %d: %w", id, err)
	}
	if srv == nil {
		return nil, apperror.NotFound("server", strconv.FormatInt(id, 10))
	}
	return srv, nil
}

func (s *RegistryService) Delete(ctx context.Context, id int64) error {
	ok, err := s.servers.DeleteServer(ctx, id)
	if err != nil {
		return fmt.Errorf("service/registry: deleting server %d: %w", id, err)
	}
	if !ok {
		return apperror.NotFound("server", strconv.FormatInt(id, 10))
	}

	s.logger.Info("server removed", slog.Int64("id", id))
	return nil
}
