package stats

import (
	"sync"
)

// Registry tracks the process-wide counters. It is safe for concurrent use by
// any number of connections. A nil *Registry ignores updates and reports zero
// counters.
type Registry struct {
	mu sync.Mutex
	c  Counters
}

// NewRegistry creates a registry with every counter tracked and set to zero.
func NewRegistry() *Registry {
	return &Registry{}
}

// ConnectionOpened records an accepted client connection.
func (r *Registry) ConnectionOpened() {
	r.update((*Counters).ConnectionOpened)
}

// ConnectionClosed records a client connection going away.
func (r *Registry) ConnectionClosed() {
	r.update((*Counters).ConnectionClosed)
}

// ClientRequest records a request received from a client.
func (r *Registry) ClientRequest() {
	r.update((*Counters).ClientRequest)
}

// InvalidRequest records a request that was answered with an error reply.
func (r *Registry) InvalidRequest() {
	r.update((*Counters).InvalidRequest)
}

// SNMPSend records a request sent to an SNMP agent.
func (r *Registry) SNMPSend() {
	r.update((*Counters).SNMPSend)
}

// SNMPRetry records a retransmission to an SNMP agent.
func (r *Registry) SNMPRetry() {
	r.update((*Counters).SNMPRetry)
}

// Snapshot returns a coherent copy of all counters taken under a single lock.
func (r *Registry) Snapshot() Counters {
	if r == nil {
		return Counters{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c
}

// Restore seeds the cumulative counters from a previously saved snapshot. The
// number of active connections is a property of the running process and is
// left untouched.
func (r *Registry) Restore(saved Counters) {
	r.update(func(c *Counters) {
		active := c.ActiveClientConnections
		*c = saved
		c.ActiveClientConnections = active
		for _, f := range [...]*int64{&c.TotalClientConnections, &c.ClientRequests, &c.InvalidRequests, &c.SNMPSends, &c.SNMPRetries} {
			if *f < 0 {
				*f = 0
			}
		}
	})
}

func (r *Registry) update(fn func(c *Counters)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	fn(&r.c)
	r.mu.Unlock()
}
