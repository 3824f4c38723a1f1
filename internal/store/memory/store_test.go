package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshoverlay/node/internal/store"
)

func TestPublicKeyRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.PublicKey(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutPublicKey(ctx, &store.UserKey{UserID: "alice", PublicKey: []byte("pem")}))

	k, err := s.PublicKey(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("pem"), k.PublicKey)
	assert.False(t, k.UpdatedAt.IsZero())
}

func TestChannelMembership(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	members, err := s.ChannelMembers(ctx, "general")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, s.AddChannelMember(ctx, "general", "alice"))
	require.NoError(t, s.AddChannelMember(ctx, "general", "bob"))

	members, err = s.ChannelMembers(ctx, "general")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	require.NoError(t, s.RemoveChannelMember(ctx, "general", "alice"))
	members, err = s.ChannelMembers(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)
}

func TestWrappedGroupKeyAndVersion(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.WrappedGroupKey(ctx, "general", "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutWrappedGroupKey(ctx, &store.WrappedGroupKey{
		Channel: "general", UserID: "alice", Wrapped: []byte("wrapped"), Version: 1,
	}))

	k, err := s.WrappedGroupKey(ctx, "general", "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped"), k.Wrapped)

	v1, err := s.BumpVersion(ctx, "general")
	require.NoError(t, err)
	v2, err := s.BumpVersion(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, v1+1, v2)
}

func TestCloseAndPing(t *testing.T) {
	s := NewStore()
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}
