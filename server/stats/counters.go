// Package stats holds the runtime counters reported by the info request and
// the selection rules used to export them.
package stats

// Absent marks a counter that is not tracked in a scope. Any negative value is
// treated the same way: the counter is left out of replies entirely.
const Absent int64 = -1

// Counters holds the runtime counters of one scope, either the whole process or
// a single client connection. Counters is a plain value, so copying it yields a
// point-in-time snapshot.
type Counters struct {
	// ActiveClientConnections is the number of clients currently connected.
	ActiveClientConnections int64
	// TotalClientConnections is the number of clients accepted since start.
	TotalClientConnections int64
	// ClientRequests counts every request received from clients.
	ClientRequests int64
	// InvalidRequests counts requests rejected with an error reply.
	InvalidRequests int64
	// SNMPSends counts requests sent to SNMP agents.
	SNMPSends int64
	// SNMPRetries counts retransmissions to SNMP agents.
	SNMPRetries int64
}

// NewConnectionCounters returns the counters owned by a single client
// connection. Connection totals and SNMP traffic are only meaningful for the
// process as a whole, so those fields start out absent.
func NewConnectionCounters() Counters {
	return Counters{
		ActiveClientConnections: Absent,
		TotalClientConnections:  Absent,
		SNMPSends:               Absent,
		SNMPRetries:             Absent,
	}
}

// ConnectionOpened records an accepted client connection.
func (c *Counters) ConnectionOpened() {
	bump(&c.ActiveClientConnections, 1)
	bump(&c.TotalClientConnections, 1)
}

// ConnectionClosed records a client connection going away.
func (c *Counters) ConnectionClosed() {
	bump(&c.ActiveClientConnections, -1)
}

// ClientRequest records a request received from a client.
func (c *Counters) ClientRequest() {
	bump(&c.ClientRequests, 1)
}

// InvalidRequest records a request that was answered with an error reply.
func (c *Counters) InvalidRequest() {
	bump(&c.InvalidRequests, 1)
}

// SNMPSend records a request sent to an SNMP agent.
func (c *Counters) SNMPSend() {
	bump(&c.SNMPSends, 1)
}

// SNMPRetry records a retransmission to an SNMP agent.
func (c *Counters) SNMPRetry() {
	bump(&c.SNMPRetries, 1)
}

// bump adds n to a tracked counter. Absent counters stay absent and tracked
// counters never drop below zero.
func bump(v *int64, n int64) {
	if *v < 0 {
		return
	}
	*v += n
	if *v < 0 {
		*v = 0
	}
}
