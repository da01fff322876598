package client

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/hunyxv/zcomm"
)

type pendingResponse struct {
	requestID string
	comm      zcomm.Comm
}

// responseRegistry holds the response comm of every request still waiting for a
// reply. It is a single insertion-ordered map, so the key set and the call order can
// never disagree: an entry leaves both at once.
type responseRegistry struct {
	m *linkedhashmap.Map // requestid:comm
}

func newResponseRegistry() *responseRegistry {
	return &responseRegistry{m: linkedhashmap.New()}
}

func (r *responseRegistry) insert(requestID string, c zcomm.Comm) {
	r.m.Put(requestID, c)
}

func (r *responseRegistry) has(requestID string) bool {
	_, ok := r.m.Get(requestID)
	return ok
}

func (r *responseRegistry) load(requestID string) (zcomm.Comm, bool) {
	v, ok := r.m.Get(requestID)
	if !ok {
		return nil, false
	}
	return v.(zcomm.Comm), true
}

func (r *responseRegistry) remove(requestID string) {
	r.m.Remove(requestID)
}

// oldest returns the entry inserted first.
func (r *responseRegistry) oldest() (pendingResponse, bool) {
	it := r.m.Iterator()
	if !it.First() {
		return pendingResponse{}, false
	}
	return pendingResponse{
		requestID: it.Key().(string),
		comm:      it.Value().(zcomm.Comm),
	}, true
}

func (r *responseRegistry) len() int {
	return r.m.Size()
}

// ids lists the pending request ids oldest first.
func (r *responseRegistry) ids() []string {
	keys := r.m.Keys()
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.(string))
	}
	return ids
}

// popAll empties the registry and returns what it held, oldest first.
func (r *responseRegistry) popAll() []pendingResponse {
	all := make([]pendingResponse, 0, r.m.Size())
	it := r.m.Iterator()
	for it.Next() {
		all = append(all, pendingResponse{
			requestID: it.Key().(string),
			comm:      it.Value().(zcomm.Comm),
		})
	}
	r.m.Clear()
	return all
}
