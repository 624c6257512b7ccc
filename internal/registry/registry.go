// Package registry tracks which connections follow which tasks.
//
// It is the only state shared between connections. Follower sets are sharded
// by task id so unrelated tasks never contend, and every connection keeps a
// reverse index of the tasks it follows so teardown touches only those shards.
//
// Lock order is connection then shard. No lock is held while sending.
package registry

import (
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShardCount is used when New is given a non-positive shard count
const DefaultShardCount = 32

var (
	// ErrNotFollowing is returned by Unfollow when the connection does not follow the task
	ErrNotFollowing = errors.New("connection is not following task")
	// ErrConnectionClosed is returned when following on a connection that was never attached or already dropped
	ErrConnectionClosed = errors.New("connection is closed")
)

// Conn is a follower: something identifiable that can receive payloads
type Conn interface {
	// ID uniquely identifies the connection for the lifetime of the process
	ID() string
	// Send delivers one payload to the connection
	Send(payload interface{}) error
}

type shard struct {
	mu        sync.RWMutex
	followers map[string]map[string]Conn // task id -> connection id -> conn
}

type member struct {
	mu     sync.Mutex
	conn   Conn
	tasks  map[string]struct{}
	closed bool
}

// Registry maps task ids to the connections following them
type Registry struct {
	shards []*shard

	membersMu sync.RWMutex
	members   map[string]*member
}

// New creates a registry with shardCount shards
func New(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	r := &Registry{
		shards:  make([]*shard, shardCount),
		members: make(map[string]*member),
	}
	for i := range r.shards {
		r.shards[i] = &shard{followers: make(map[string]map[string]Conn)}
	}
	return r
}

func (r *Registry) shardFor(taskID string) *shard {
	return r.shards[xxhash.Sum64String(taskID)%uint64(len(r.shards))]
}

func (r *Registry) member(conn Conn) *member {
	r.membersMu.RLock()
	defer r.membersMu.RUnlock()
	return r.members[conn.ID()]
}

// Attach registers conn so it may follow tasks. Attaching twice is a no-op.
func (r *Registry) Attach(conn Conn) {
	r.membersMu.Lock()
	defer r.membersMu.Unlock()
	if _, ok := r.members[conn.ID()]; ok {
		return
	}
	r.members[conn.ID()] = &member{conn: conn, tasks: make(map[string]struct{})}
}

// Follow adds conn to the followers of taskID. Following twice is a no-op.
func (r *Registry) Follow(taskID string, conn Conn) error {
	m := r.member(conn)
	if m == nil {
		return ErrConnectionClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrConnectionClosed
	}

	s := r.shardFor(taskID)
	s.mu.Lock()
	set, ok := s.followers[taskID]
	if !ok {
		set = make(map[string]Conn)
		s.followers[taskID] = set
	}
	set[conn.ID()] = m.conn
	s.mu.Unlock()

	m.tasks[taskID] = struct{}{}
	return nil
}

// Unfollow removes conn from the followers of taskID
func (r *Registry) Unfollow(taskID string, conn Conn) error {
	m := r.member(conn)
	if m == nil {
		return ErrNotFollowing
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return ErrNotFollowing
	}

	r.removeFollower(taskID, conn.ID())
	delete(m.tasks, taskID)
	return nil
}

// removeFollower deletes one pair and drops the task entry once it is empty
func (r *Registry) removeFollower(taskID, connID string) {
	s := r.shardFor(taskID)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.followers[taskID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.followers, taskID)
	}
}

// FollowersOf returns a snapshot of the connections following taskID.
// An unknown task has no followers.
func (r *Registry) FollowersOf(taskID string) []Conn {
	s := r.shardFor(taskID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.followers[taskID]
	conns := make([]Conn, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// IsFollowing reports whether conn follows taskID
func (r *Registry) IsFollowing(taskID string, conn Conn) bool {
	s := r.shardFor(taskID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.followers[taskID][conn.ID()]
	return ok
}

// DropConnection removes conn from every follower set and detaches it.
// A concurrent Follow either completes first and is undone here, or observes
// the closed connection and fails with ErrConnectionClosed, so no follower
// set retains conn once DropConnection returns.
// It returns the tasks conn was following.
func (r *Registry) DropConnection(conn Conn) []string {
	r.membersMu.Lock()
	m := r.members[conn.ID()]
	delete(r.members, conn.ID())
	r.membersMu.Unlock()
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	tasks := make([]string, 0, len(m.tasks))
	for taskID := range m.tasks {
		r.removeFollower(taskID, conn.ID())
		tasks = append(tasks, taskID)
	}
	m.tasks = nil
	return tasks
}

// Stats is a point-in-time summary of the registry
type Stats struct {
	Connections int `json:"connections"`
	Tasks       int `json:"tasks"`
	Follows     int `json:"follows"`
}

// Stats counts attached connections, followed tasks and follow pairs
func (r *Registry) Stats() Stats {
	var stats Stats

	r.membersMu.RLock()
	stats.Connections = len(r.members)
	r.membersMu.RUnlock()

	for _, s := range r.shards {
		s.mu.RLock()
		stats.Tasks += len(s.followers)
		for _, set := range s.followers {
			stats.Follows += len(set)
		}
		s.mu.RUnlock()
	}
	return stats
}
