package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string
}

func (c *fakeConn) ID() string                     { return c.id }
func (c *fakeConn) Send(payload interface{}) error { return nil }

func ids(conns []Conn) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}

func TestFollow_Idempotent(t *testing.T) {
	r := New(4)
	a := &fakeConn{id: "a"}
	r.Attach(a)

	require.NoError(t, r.Follow("t1", a))
	once := ids(r.FollowersOf("t1"))
	require.NoError(t, r.Follow("t1", a))

	assert.Equal(t, once, ids(r.FollowersOf("t1")))
	assert.Equal(t, Stats{Connections: 1, Tasks: 1, Follows: 1}, r.Stats())
}

func TestFollow_RequiresAttach(t *testing.T) {
	r := New(4)
	a := &fakeConn{id: "a"}

	assert.ErrorIs(t, r.Follow("t1", a), ErrConnectionClosed)
	assert.Empty(t, r.FollowersOf("t1"))
}

func TestUnfollow_NotFollowingLeavesRegistryUnchanged(t *testing.T) {
	r := New(4)
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Attach(a)
	r.Attach(b)
	require.NoError(t, r.Follow("t1", a))

	before := r.Stats()
	assert.ErrorIs(t, r.Unfollow("t1", b), ErrNotFollowing)
	assert.ErrorIs(t, r.Unfollow("t2", a), ErrNotFollowing)
	assert.ErrorIs(t, r.Unfollow("t1", &fakeConn{id: "never-attached"}), ErrNotFollowing)

	assert.Equal(t, before, r.Stats())
	assert.Equal(t, []string{"a"}, ids(r.FollowersOf("t1")))
}

func TestUnfollow_RemovesEmptyTask(t *testing.T) {
	r := New(4)
	a := &fakeConn{id: "a"}
	r.Attach(a)
	require.NoError(t, r.Follow("t1", a))

	require.NoError(t, r.Unfollow("t1", a))
	assert.Empty(t, r.FollowersOf("t1"))
	assert.False(t, r.IsFollowing("t1", a))
	assert.Equal(t, 0, r.Stats().Tasks)

	// A second unfollow is a caller error
	assert.ErrorIs(t, r.Unfollow("t1", a), ErrNotFollowing)
}

func TestFollowersOf_UnknownTask(t *testing.T) {
	r := New(4)
	assert.NotNil(t, r.FollowersOf("unknown"))
	assert.Empty(t, r.FollowersOf("unknown"))
}

func TestFollowersOf_IsSnapshot(t *testing.T) {
	r := New(4)
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Attach(a)
	r.Attach(b)
	require.NoError(t, r.Follow("t1", a))

	snapshot := r.FollowersOf("t1")
	require.NoError(t, r.Follow("t1", b))

	assert.Equal(t, []string{"a"}, ids(snapshot))
	assert.ElementsMatch(t, []string{"a", "b"}, ids(r.FollowersOf("t1")))
}

func TestDropConnection_RemovesEverything(t *testing.T) {
	r := New(4)
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Attach(a)
	r.Attach(b)

	for _, task := range []string{"t1", "t2", "t3"} {
		require.NoError(t, r.Follow(task, a))
	}
	require.NoError(t, r.Follow("t2", b))
	require.NoError(t, r.Unfollow("t3", a))
	require.NoError(t, r.Follow("t3", a))

	dropped := r.DropConnection(a)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, dropped)

	for _, task := range []string{"t1", "t2", "t3"} {
		assert.NotContains(t, ids(r.FollowersOf(task)), "a", task)
	}
	assert.Equal(t, []string{"b"}, ids(r.FollowersOf("t2")))
	assert.Equal(t, Stats{Connections: 1, Tasks: 1, Follows: 1}, r.Stats())

	// Dropped connections cannot follow again and a second drop is harmless
	assert.ErrorIs(t, r.Follow("t1", a), ErrConnectionClosed)
	assert.Nil(t, r.DropConnection(a))
}

func TestDropConnection_WinsOverConcurrentFollow(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := New(8)
		conn := &fakeConn{id: "c"}
		r.Attach(conn)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					_ = r.Follow(fmt.Sprintf("task-%d-%d", i, j), conn)
				}
			}(i)
		}

		close(start)
		r.DropConnection(conn)
		wg.Wait()

		assert.Equal(t, 0, r.Stats().Follows, "round %d", round)
	}
}

func TestConcurrentFollowUnfollow(t *testing.T) {
	r := New(16)
	conns := make([]*fakeConn, 20)
	for i := range conns {
		conns[i] = &fakeConn{id: fmt.Sprintf("c%d", i)}
		r.Attach(conns[i])
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				task := fmt.Sprintf("t%d", j%10)
				require.NoError(t, r.Follow(task, c))
				_ = r.FollowersOf(task)
				require.NoError(t, r.Unfollow(task, c))
			}
			require.NoError(t, r.Follow("shared", c))
		}(c)
	}
	wg.Wait()

	assert.Len(t, r.FollowersOf("shared"), len(conns))
	assert.Equal(t, Stats{Connections: len(conns), Tasks: 1, Follows: len(conns)}, r.Stats())
}

func TestNew_DefaultShards(t *testing.T) {
	r := New(0)
	assert.Len(t, r.shards, DefaultShardCount)
}
