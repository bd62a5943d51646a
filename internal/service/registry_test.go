package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/keybridge/internal/apperror"
)

func TestRegistry_CRUD(t *testing.T) {
	db := newTestStore(t)
	svc := NewRegistryService(db, testLogger())
	ctx := context.Background()

	srv, err := svc.Add(ctx, " https://share.example.com/ ", "primary")
	require.NoError(t, err)
	assert.Equal(t, "https://share.example.com", srv.URL)
	assert.NotZero(t, srv.ID)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	got, err := svc.Get(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Description)

	require.NoError(t, svc.Delete(ctx, srv.ID))
	_, err = svc.Get(ctx, srv.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, srv.ID), apperror.ErrNotFound)
}

func TestRegistry_AddRejectsBadURL(t *testing.T) {
	svc := NewRegistryService(newTestStore(t), testLogger())

	for _, raw := range []string{"", "share.example.com", "ftp://share.example.com", "https://"} {
		_, err := svc.Add(context.Background(), raw, "")
		assert.ErrorIs(t, err, apperror.ErrValidation, raw)
	}
}

func TestRegistry_AddDuplicate(t *testing.T) {
	svc := NewRegistryService(newTestStore(t), testLogger())
	ctx := context.Background()

	_, err := svc.Add(ctx, "https://share.example.com", "")
	require.NoError(t, err)
	_, err = svc.Add(ctx, "https://share.example.com/", "again")
	assert.ErrorIs(t, err, apperror.ErrConflict)
}
