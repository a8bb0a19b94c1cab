package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sinas/internal/store/file"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := file.New(t.TempDir() + "/data")
	require.NoError(t, err)
	return New(s, "test-secret")
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "hunter22"))

	token, err := svc.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.Error(t, svc.Register(ctx, "ab", "hunter22"), "too short")
	assert.Error(t, svc.Register(ctx, "has space", "hunter22"))
	assert.Error(t, svc.Register(ctx, "has:colon", "hunter22"))
	assert.Error(t, svc.Register(ctx, "alice", "short"))
}

func TestRegisterDuplicate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "hunter22"))
	assert.ErrorIs(t, svc.Register(ctx, "alice", "hunter22"), ErrUsernameTaken)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "hunter22"))

	_, err := svc.Login(ctx, "alice", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Unknown users fail the same way; no placeholder is provisioned.
	_, err = svc.Login(ctx, "ghost", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordsAreStoredHashed(t *testing.T) {
	backing, err := file.New(t.TempDir() + "/data")
	require.NoError(t, err)
	svc := New(backing, "test-secret")
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "hunter22"))

	u, err := backing.ResolveUserInfo(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", u.Password)
	assert.NotEqual(t, u.Username, u.Password)
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "hunter22"))
	require.NoError(t, svc.ChangePassword(ctx, "alice", "betterpass"))

	_, err := svc.Login(ctx, "alice", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "alice", "betterpass")
	assert.NoError(t, err)

	err = svc.ChangePassword(ctx, "ghost", "whatever1")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	backing, err := file.New(t.TempDir() + "/data")
	require.NoError(t, err)
	svc := NewWithTokenTTL(backing, "test-secret", time.Nanosecond)

	token, err := svc.GenerateToken("alice")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
