package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallera-exchange/internal/model"
)

type fakePeer struct {
	id, user string

	mu     sync.Mutex
	got    [][]byte
	closed string
	full   bool
}

func (p *fakePeer) ID() string     { return p.id }
func (p *fakePeer) UserID() string { return p.user }

func (p *fakePeer) Send(msg []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full || p.closed != "" {
		return false
	}
	p.got = append(p.got, msg)
	return true
}

func (p *fakePeer) Close(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = reason
}

func (p *fakePeer) received() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(2)
	require.NoError(t, r.Admit(&fakePeer{id: "c1"}))
	require.NoError(t, r.Admit(&fakePeer{id: "c2"}))

	err := r.Admit(&fakePeer{id: "c3"})
	assert.ErrorIs(t, err, model.ErrCapacityExceeded)
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.Remove("c1"))
	assert.False(t, r.Remove("c1"))
	assert.NoError(t, r.Admit(&fakePeer{id: "c3"}))
}

func TestRegistrySweepIdle(t *testing.T) {
	r := NewRegistry(0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	stale := &fakePeer{id: "stale"}
	busy := &fakePeer{id: "busy"}
	require.NoError(t, r.Admit(stale))
	require.NoError(t, r.Admit(busy))

	now = now.Add(4 * time.Minute)
	r.Touch("busy")
	now = now.Add(2 * time.Minute)

	swept := r.Sweep(5 * time.Minute)
	require.Len(t, swept, 1)
	assert.Equal(t, "stale", swept[0].ID())
	assert.Equal(t, 1, r.Len())
	assert.Empty(t, r.Sweep(5*time.Minute))
}

func TestRoomsBroadcast(t *testing.T) {
	rooms := NewRooms()
	a := &fakePeer{id: "a", user: "alice"}
	b := &fakePeer{id: "b", user: "bob"}
	slow := &fakePeer{id: "s", user: "sam", full: true}

	rooms.Join(FightRoom("f1"), a)
	rooms.Join(FightRoom("f1"), b)
	rooms.Join(FightRoom("f1"), slow)
	rooms.Join(FightRoom("f2"), a)
	rooms.Join(UserRoom("alice"), a)

	assert.Equal(t, 2, rooms.Broadcast(FightRoom("f1"), []byte("x")))
	assert.Equal(t, 1, rooms.Broadcast(FightRoom("f2"), []byte("y")))
	assert.Equal(t, 0, rooms.Broadcast(FightRoom("none"), []byte("z")))
	assert.Equal(t, 2, a.received())
	assert.Equal(t, 1, b.received())

	rooms.LeaveAll(a)
	assert.Equal(t, 0, rooms.Size(FightRoom("f2")))
	assert.Equal(t, 0, rooms.Size(UserRoom("alice")))
	assert.Equal(t, 2, rooms.Size(FightRoom("f1")))
}
