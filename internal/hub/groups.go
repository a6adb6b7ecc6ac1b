package hub

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

const maxGroupName = 128

// groups — комнаты. Верхний RWMutex защищает только карту name -> *group,
// сами участники под мьютексом конкретной группы.
type groups struct {
	mu     sync.RWMutex
	byName map[string]*group
}

type group struct {
	mu      sync.Mutex
	members map[string]*Connection
	dead    bool // группа опустела и удалена из карты
}

func newGroups() *groups {
	return &groups{byName: make(map[string]*group)}
}

func normalizeGroup(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxGroupName {
		return "", fmt.Errorf("%w: group name must be 1..%d characters", domain.ErrValidation, maxGroupName)
	}
	return name, nil
}

// add returns created=true when the group did not exist before.
func (gs *groups) add(name string, c *Connection) (created bool) {
	for {
		gs.mu.RLock()
		g, ok := gs.byName[name]
		gs.mu.RUnlock()

		if !ok {
			gs.mu.Lock()
			if g, ok = gs.byName[name]; !ok {
				g = &group{members: make(map[string]*Connection)}
				gs.byName[name] = g
				created = true
			}
			gs.mu.Unlock()
		}

		g.mu.Lock()
		if g.dead {
			// проиграли гонку с удалением пустой группы, пробуем заново
			g.mu.Unlock()
			created = false
			continue
		}
		g.members[c.id] = c
		g.mu.Unlock()
		return created
	}
}

// remove returns removedGroup=true when this was the last member.
func (gs *groups) remove(name, connID string) (removedGroup bool) {
	gs.mu.RLock()
	g, ok := gs.byName[name]
	gs.mu.RUnlock()
	if !ok {
		return false
	}

	g.mu.Lock()
	delete(g.members, connID)
	empty := len(g.members) == 0 && !g.dead
	if empty {
		g.dead = true
	}
	g.mu.Unlock()

	if !empty {
		return false
	}
	gs.mu.Lock()
	if gs.byName[name] == g {
		delete(gs.byName, name)
	}
	gs.mu.Unlock()
	return true
}

// audience is an immutable snapshot of the members at call time.
func (gs *groups) audience(name string) []*Connection {
	gs.mu.RLock()
	g, ok := gs.byName[name]
	gs.mu.RUnlock()
	if !ok {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Connection, 0, len(g.members))
	for _, c := range g.members {
		out = append(out, c)
	}
	return out
}

func (gs *groups) memberIDs(name string) []string {
	aud := gs.audience(name)
	ids := make([]string, 0, len(aud))
	for _, c := range aud {
		ids = append(ids, c.id)
	}
	sort.Strings(ids)
	return ids
}

func (gs *groups) names() []string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	out := make([]string, 0, len(gs.byName))
	for n := range gs.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (gs *groups) len() int {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return len(gs.byName)
}
