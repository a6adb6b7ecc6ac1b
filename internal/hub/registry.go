package hub

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

const shardCount = 32

// registry — все живые соединения, шардированные по id, чтобы register/unregister
// на разных сокетах не упирались в один мьютекс.
type registry struct {
	shards [shardCount]registryShard
	size   atomic.Int64
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func newRegistry() *registry {
	r := &registry{}
	for i := range r.shards {
		r.shards[i].conns = make(map[string]*Connection)
	}
	return r
}

func (r *registry) shard(id string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

func (r *registry) add(id string, conn Conn) (*Connection, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty connection id", domain.ErrValidation)
	}
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, id)
	}
	c := newConnection(id, conn)
	s.conns[id] = c
	r.size.Add(1)
	return c, nil
}

func (r *registry) remove(id string) (*Connection, error) {
	s := r.shard(id)
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	r.size.Add(-1)
	return c, nil
}

func (r *registry) get(id string) (*Connection, error) {
	s := r.shard(id)
	s.mu.RLock()
	c, ok := s.conns[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (r *registry) snapshot() []*Connection {
	out := make([]*Connection, 0, r.size.Load())
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, c := range s.conns {
			out = append(out, c)
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *registry) len() int { return int(r.size.Load()) }
