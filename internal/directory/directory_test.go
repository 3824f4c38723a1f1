package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meshoverlay/node/internal/envelope"
)

func TestAttachDetachPeer(t *testing.T) {
	d := New()
	d.AttachPeer("srv-1", "conn", PeerAddr{Host: "h", Port: 1})

	assert.True(t, d.HasPeer("srv-1"))
	link, ok := d.PeerLink("srv-1")
	assert.True(t, ok)
	assert.Equal(t, "conn", link)

	d.DetachPeer("srv-1")
	assert.False(t, d.HasPeer("srv-1"))
	_, ok = d.PeerLink("srv-1")
	assert.False(t, ok)
}

func TestLocalUserInvariant(t *testing.T) {
	d := New()
	d.AttachUser("alice", "conn-a")

	loc, ok := d.UserLocation("alice")
	assert.True(t, ok)
	assert.Equal(t, LocationLocal, loc)
	_, ok = d.LocalUserLink("alice")
	assert.True(t, ok)

	d.DetachUser("alice")
	_, ok = d.UserLocation("alice")
	assert.False(t, ok)
	_, ok = d.LocalUserLink("alice")
	assert.False(t, ok)
}

func TestDetachUserDoesNotClobberRemoteAdvertise(t *testing.T) {
	d := New()
	d.AttachUser("alice", "conn-a")
	d.DetachUser("alice")
	// A remote advertise races in after local detach.
	d.SetUserLocation("alice", "srv-2")
	d.DetachUser("alice") // no-op: location no longer "local"

	loc, ok := d.UserLocation("alice")
	assert.True(t, ok)
	assert.Equal(t, "srv-2", loc)
}

func TestRemoveUserLocationIfMatchesFencing(t *testing.T) {
	d := New()
	d.SetUserLocation("bob", "srv-1")

	assert.False(t, d.RemoveUserLocationIfMatches("bob", "srv-2"))
	_, ok := d.UserLocation("bob")
	assert.True(t, ok)

	assert.True(t, d.RemoveUserLocationIfMatches("bob", "srv-1"))
	_, ok = d.UserLocation("bob")
	assert.False(t, ok)
}

func TestReapPeersMonotonicity(t *testing.T) {
	d := New()
	d.AttachPeer("dead", "conn", PeerAddr{Host: "h", Port: 1})
	d.mu.Lock()
	d.peerLastSeen["dead"] = time.Now().Add(-60 * time.Second)
	d.mu.Unlock()
	d.AttachPeer("alive", "conn", PeerAddr{Host: "h", Port: 2})

	reaped := d.ReapPeers(45 * time.Second)
	assert.Equal(t, []string{"dead"}, reaped)
	assert.False(t, d.HasPeer("dead"))
	assert.True(t, d.HasPeer("alive"))
}

func TestKnownUserAdvertisesPreservesInsertionOrder(t *testing.T) {
	d := New()
	d.CacheAdvertise("u1", &envelope.Envelope{From: "u1"})
	d.CacheAdvertise("u2", &envelope.Envelope{From: "u2"})
	d.CacheAdvertise("u1", &envelope.Envelope{From: "u1", TS: 2}) // update, not reorder

	envs := d.KnownUserAdvertises()
	assert.Len(t, envs, 2)
	assert.Equal(t, "u1", envs[0].From)
	assert.Equal(t, "u2", envs[1].From)
	assert.Equal(t, int64(2), envs[0].TS)
}

func TestSnapshotPeers(t *testing.T) {
	d := New()
	d.AttachPeer("srv-1", "conn", PeerAddr{Host: "10.0.0.1", Port: 8765})

	snap := d.SnapshotPeers()
	assert.Len(t, snap, 1)
	assert.Equal(t, "srv-1", snap[0].ID)
	assert.Equal(t, "10.0.0.1", snap[0].Host)
	assert.Equal(t, 8765, snap[0].Port)
}
