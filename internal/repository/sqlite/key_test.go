package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/model"
)

func createTestKey(t *testing.T, db *DB, key string, userID, sessionID int64) *model.AnalysisKey {
	t.Helper()
	k := &model.AnalysisKey{
		RemoteKeyID: int64Ptr(sessionID * 100),
		Key:         key,
		SessionID:   sessionID,
		UserID:      userID,
		Metadata:    model.Metadata{"createdFrom": "test"},
	}
	require.NoError(t, db.CreateAnalysisKey(context.Background(), k))
	return k
}

// =========================================================================
// CREATE / GET TESTS
// =========================================================================

func TestCreateAnalysisKey_ThenGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	k := &model.AnalysisKey{RemoteKeyID: int64Ptr(7), Key: "abc", SessionID: 3, UserID: 1}
	require.NoError(t, db.CreateAnalysisKey(ctx, k))
	assert.NotZero(t, k.ID)
	assert.Equal(t, model.KeyActive, k.Status)

	got, err := db.GetAnalysisKey(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.KeyActive, got.Status)
	assert.Equal(t, int64(3), got.SessionID)
	assert.Equal(t, int64(1), got.UserID)
	require.NotNil(t, got.RemoteKeyID)
	assert.Equal(t, int64(7), *got.RemoteKeyID)
	assert.Nil(t, got.ExpiresAt)
	assert.True(t, got.CreatedAt.Equal(k.CreatedAt))
}

func TestCreateAnalysisKey_DuplicateKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createTestKey(t, db, "abc", 1, 3)

	err := db.CreateAnalysisKey(ctx, &model.AnalysisKey{Key: "abc", SessionID: 4, UserID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrDuplicateKey)

	keys, err := db.ListAnalysisKeysByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, keys, 1, "duplicate must not create a second row")
}

func TestCreateAnalysisKey_SecondActiveKeyForSessionRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createTestKey(t, db, "first", 1, 3)

	err := db.CreateAnalysisKey(ctx, &model.AnalysisKey{Key: "second", SessionID: 3, UserID: 1})
	assert.ErrorIs(t, err, apperror.ErrDuplicateKey)

	// once the first key is used, the session may get a new active key
	ok, err := db.UpdateAnalysisKeyStatus(ctx, "first", model.KeyUsed)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, db.CreateAnalysisKey(ctx, &model.AnalysisKey{Key: "second", SessionID: 3, UserID: 1}))
}

func TestCreateAnalysisKey_UnknownStatus(t *testing.T) {
	db := newTestDB(t)

	err := db.CreateAnalysisKey(context.Background(),
		&model.AnalysisKey{Key: "abc", Status: "archived"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestGetAnalysisKey_Missing(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetAnalysisKey(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetAnalysisKeyByRemoteID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createTestKey(t, db, "abc", 1, 3) // remote id 300

	got, err := db.GetAnalysisKeyByRemoteID(ctx, 300)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Key)

	missing, err := db.GetAnalysisKeyByRemoteID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindActiveKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createTestKey(t, db, "abc", 1, 3)

	got, err := db.FindActiveKey(ctx, 1, 3)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Key)

	other, err := db.FindActiveKey(ctx, 2, 3)
	require.NoError(t, err)
	assert.Nil(t, other)

	_, err = db.UpdateAnalysisKeyStatus(ctx, "abc", model.KeyUsed)
	require.NoError(t, err)

	used, err := db.FindActiveKey(ctx, 1, 3)
	require.NoError(t, err)
	assert.Nil(t, used, "used keys are not active")
}

// =========================================================================
// LIST TESTS
// =========================================================================

func TestListAnalysisKeysByUser_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		at := base.Add(time.Duration(i) * time.Minute)
		db.now = func() time.Time { return at }
		createTestKey(t, db, fmt.Sprintf("key-%d", i), 1, int64(i+1))
	}
	createTestKey(t, db, "someone-else", 2, 1)

	keys, err := db.ListAnalysisKeysByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "key-2", keys[0].Key)
	assert.Equal(t, "key-0", keys[2].Key)
	assert.Equal(t, "test", keys[0].Metadata["createdFrom"])
}

func TestListAnalysisKeysByUser_Empty(t *testing.T) {
	db := newTestDB(t)

	keys, err := db.ListAnalysisKeysByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, keys)
	assert.Empty(t, keys)
}

// =========================================================================
// STATUS / METADATA TESTS
// =========================================================================

func TestUpdateAnalysisKeyStatus_Monotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createTestKey(t, db, "abc", 1, 3)

	ok, err := db.UpdateAnalysisKeyStatus(ctx, "abc", model.KeyUsed)
	require.NoError(t, err)
	assert.True(t, ok)

	// used -> active must be rejected and leave the row untouched
	ok, err = db.UpdateAnalysisKeyStatus(ctx, "abc", model.KeyActive)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.False(t, ok)

	got, err := db.GetAnalysisKey(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, model.KeyUsed, got.Status)

	ok, err = db.UpdateAnalysisKeyStatus(ctx, "abc", model.KeyInactive)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.UpdateAnalysisKeyStatus(ctx, "abc", model.KeyUsed)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestUpdateAnalysisKeyStatus_Missing(t *testing.T) {
	db := newTestDB(t)

	ok, err := db.UpdateAnalysisKeyStatus(context.Background(), "nope", model.KeyUsed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateAnalysisKeyStatus_UnknownStatus(t *testing.T) {
	db := newTestDB(t)
	createTestKey(t, db, "abc", 1, 3)

	_, err := db.UpdateAnalysisKeyStatus(context.Background(), "abc", "archived")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestTransitionAnalysisKey_OverwritesMetadata(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createTestKey(t, db, "abc", 1, 3)

	ok, err := db.TransitionAnalysisKey(ctx, "abc", model.KeyUsed,
		model.Metadata{"updatedFrom": "mark_used"})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := db.GetAnalysisKey(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, model.KeyUsed, got.Status)
	assert.Equal(t, "mark_used", got.Metadata["updatedFrom"])
	assert.NotContains(t, got.Metadata, "createdFrom")
}

func TestTransitionAnalysisKey_NilMetadataKeepsExisting(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createTestKey(t, db, "abc", 1, 3)

	_, err := db.TransitionAnalysisKey(ctx, "abc", model.KeyInactive, nil)
	require.NoError(t, err)

	got, err := db.GetAnalysisKey(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "test", got.Metadata["createdFrom"])
}

func TestUpdateAnalysisKeyMetadata(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createTestKey(t, db, "abc", 1, 3)

	ok, err := db.UpdateAnalysisKeyMetadata(ctx, "abc", model.Metadata{"note": "hello"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := db.GetAnalysisKey(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, model.Metadata{"note": "hello"}, got.Metadata)

	ok, err = db.UpdateAnalysisKeyMetadata(ctx, "nope", model.Metadata{})
	require.NoError(t, err)
	assert.False(t, ok)
}

// =========================================================================
// DELETE / CLEANUP / DEACTIVATE TESTS
// =========================================================================

func TestDeleteAnalysisKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createTestKey(t, db, "abc", 1, 3)

	ok, err := db.DeleteAnalysisKey(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.DeleteAnalysisKey(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanupExpiredKeys(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, db.CreateAnalysisKey(ctx,
		&model.AnalysisKey{Key: "expired", SessionID: 1, UserID: 1, ExpiresAt: &past}))
	require.NoError(t, db.CreateAnalysisKey(ctx,
		&model.AnalysisKey{Key: "fresh", SessionID: 2, UserID: 1, ExpiresAt: &future}))
	require.NoError(t, db.CreateAnalysisKey(ctx,
		&model.AnalysisKey{Key: "forever", SessionID: 3, UserID: 1}))

	n, err := db.CleanupExpiredKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := db.GetAnalysisKey(ctx, "expired")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := db.GetAnalysisKey(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.NotNil(t, kept.ExpiresAt)
	assert.WithinDuration(t, future, *kept.ExpiresAt, time.Microsecond)
}

func TestDeactivateKeysForAnalysis(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i, key := range []string{"a", "b"} {
		require.NoError(t, db.CreateAnalysisKey(ctx, &model.AnalysisKey{
			Key: key, SessionID: int64(i + 1), UserID: 1, AnalysisID: int64Ptr(9),
		}))
	}
	createTestKey(t, db, "unrelated", 1, 5)

	n, err := db.DeactivateKeysForAnalysis(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	byAnalysis, err := db.ListAnalysisKeysByAnalysis(ctx, 9)
	require.NoError(t, err)
	require.Len(t, byAnalysis, 2)
	for _, k := range byAnalysis {
		assert.Equal(t, model.KeyInactive, k.Status)
	}

	unrelated, err := db.GetAnalysisKey(ctx, "unrelated")
	require.NoError(t, err)
	assert.Equal(t, model.KeyActive, unrelated.Status)

	// already inactive rows are not counted twice
	n, err = db.DeactivateKeysForAnalysis(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, n)
}
