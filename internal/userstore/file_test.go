package userstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarantine-drop/internal/errs"
)

func TestFileStore_CreateAndGet(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := OpenFileStore(fsys, "data/users.json")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Create(ctx, User{Username: "alice", PasswordHash: "h1"}))

	u, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "h1", u.PasswordHash)
	assert.False(t, u.CreatedAt.IsZero())

	raw, err := afero.ReadFile(fsys, "data/users.json")
	require.NoError(t, err)
	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "h1", doc["alice"]["passwordHash"])
}

func TestFileStore_DuplicateKeepsOriginalHash(t *testing.T) {
	s, err := OpenFileStore(afero.NewMemMapFs(), "users.json")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, User{Username: "alice", PasswordHash: "original"}))
	err = s.Create(ctx, User{Username: "alice", PasswordHash: "replacement"})
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)

	u, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "original", u.PasswordHash)
}

func TestFileStore_ReloadFromDisk(t *testing.T) {
	fsys := afero.NewMemMapFs()
	ctx := context.Background()

	s, err := OpenFileStore(fsys, "users.json")
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, User{Username: "alice", PasswordHash: "a"}))
	require.NoError(t, s.Create(ctx, User{Username: "bob", PasswordHash: "b"}))

	reopened, err := OpenFileStore(fsys, "users.json")
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	u, err := reopened.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "b", u.PasswordHash)
}

func TestFileStore_CorruptDocument(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "users.json", []byte("{not json"), 0o600))

	_, err := OpenFileStore(fsys, "users.json")
	assert.Error(t, err)
}

func TestFileStore_EmptyDocument(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "users.json", nil, 0o600))

	s, err := OpenFileStore(fsys, "users.json")
	require.NoError(t, err)
	n, _ := s.Count(context.Background())
	assert.Zero(t, n)
}

func TestFileStore_SaveFailureLeavesStateUnchanged(t *testing.T) {
	s, err := OpenFileStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "users.json")
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Create(ctx, User{Username: "alice", PasswordHash: "h"})
	var perr *errs.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save users", perr.Op)

	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFileStore_ConcurrentRegistrationsSameName(t *testing.T) {
	s, err := OpenFileStore(afero.NewMemMapFs(), "users.json")
	require.NoError(t, err)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Create(ctx, User{Username: "alice", PasswordHash: fmt.Sprintf("h%d", i)}); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, errs.ErrAlreadyExists)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestFileStore_ConcurrentRegistrationsNoLostUpdates(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := OpenFileStore(fsys, "users.json")
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Create(ctx, User{Username: fmt.Sprintf("user%02d", i), PasswordHash: "h"}))
		}(i)
	}
	wg.Wait()

	reopened, err := OpenFileStore(fsys, "users.json")
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
}
