// Package repository declares the storage interfaces the services depend on.
//
// Lookups that find nothing return (nil, nil) or false rather than an error;
// deciding whether absence is a failure belongs to the caller.
package repository

import (
	"context"

	"github.com/sakif/keybridge/internal/model"
)

// UserRepository stores the single logged-in user.
type UserRepository interface {
	// UpsertUser removes every user with a different email and then inserts
	// or updates the row for in.Email, all in one transaction.
	UpsertUser(ctx context.Context, in model.UserUpsert) (*model.User, error)
	GetOnlyUser(ctx context.Context) (*model.User, error)
	UpdateUserToken(ctx context.Context, email string, token *string) (bool, error)
}

// KeyRepository stores the local mirror of analysis keys.
type KeyRepository interface {
	CreateAnalysisKey(ctx context.Context, key *model.AnalysisKey) error
	GetAnalysisKey(ctx context.Context, key string) (*model.AnalysisKey, error)
	GetAnalysisKeyByRemoteID(ctx context.Context, remoteID int64) (*model.AnalysisKey, error)
	FindActiveKey(ctx context.Context, userID, sessionID int64) (*model.AnalysisKey, error)
	ListAnalysisKeysByUser(ctx context.Context, userID int64) ([]model.AnalysisKey, error)
	ListAnalysisKeysByAnalysis(ctx context.Context, analysisID int64) ([]model.AnalysisKey, error)
	UpdateAnalysisKeyStatus(ctx context.Context, key string, status model.KeyStatus) (bool, error)
	UpdateAnalysisKeyMetadata(ctx context.Context, key string, md model.Metadata) (bool, error)
	TransitionAnalysisKey(ctx context.Context, key string, status model.KeyStatus, md model.Metadata) (bool, error)
	DeleteAnalysisKey(ctx context.Context, key string) (bool, error)
	CleanupExpiredKeys(ctx context.Context) (int64, error)
	DeactivateKeysForAnalysis(ctx context.Context, analysisID int64) (int64, error)
}

// ServerRepository stores the registry of remote sharing servers.
type ServerRepository interface {
	AddServer(ctx context.Context, srv *model.Server) error
	ListServers(ctx context.Context) ([]model.Server, error)
	GetServer(ctx context.Context, id int64) (*model.Server, error)
	DeleteServer(ctx context.Context, id int64) (bool, error)
}

// SessionDataProvider reads case/session/analysis data owned by the host
// application. Implementations are read-only.
type SessionDataProvider interface {
	GetSession(ctx context.Context, id int64) (*model.Session, error)
	ListAllSessions(ctx context.Context) ([]model.Session, error)
	ListAnalysesForSession(ctx context.Context, sessionID int64) ([]model.Analysis, error)
	GetCase(ctx context.Context, id int64) (*model.Case, error)
	GetCatalog(ctx context.Context, id int64) (*model.Catalog, error)
	ListRatesForCatalog(ctx context.Context, catalogID int64) ([]model.Rate, error)
	ListRateAnalysisResults(ctx context.Context, analysisID int64) ([]model.RateAnalysis, error)
}
