package stats

import "iter"

// field binds a counter's wire name to its location in Counters.
type field struct {
	name string
	ref  func(c *Counters) *int64
}

func (f field) value(c *Counters) int64 {
	return *f.ref(c)
}

// fields is the canonical, ordered list of exported counters. Count, Emit and
// All all iterate this table, so adding a counter only requires a new entry
// here.
var fields = [...]field{
	{"active_client_connections", func(c *Counters) *int64 { return &c.ActiveClientConnections }},
	{"total_client_connections", func(c *Counters) *int64 { return &c.TotalClientConnections }},
	{"client_requests", func(c *Counters) *int64 { return &c.ClientRequests }},
	{"invalid_requests", func(c *Counters) *int64 { return &c.InvalidRequests }},
	{"snmp_sends", func(c *Counters) *int64 { return &c.SNMPSends }},
	{"snmp_retries", func(c *Counters) *int64 { return &c.SNMPRetries }},
}

// Pair is a single present counter.
type Pair struct {
	Name  string
	Value int64
}

// Sink receives the key/value pairs of a counter map. *msgpack.Encoder
// satisfies it.
type Sink interface {
	EncodeString(v string) error
	EncodeInt(n int64) error
}

// Fields returns the names of all known counters in canonical order.
func Fields() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// All returns an iterator over the present counters of c in canonical order.
// A counter is present if its value is zero or greater.
func All(c Counters) iter.Seq2[string, int64] {
	return func(yield func(string, int64) bool) {
		for _, f := range fields {
			v := f.value(&c)
			if v < 0 {
				continue
			}
			if !yield(f.name, v) {
				return
			}
		}
	}
}

// Count returns the number of present counters in c. It always equals the
// number of pairs written by Emit for the same value.
func Count(c Counters) int {
	n := 0
	for range All(c) {
		n++
	}
	return n
}

// Emit writes every present counter of c to sink as a name followed by its
// value. The caller is expected to have declared a map of Count(c) entries.
func Emit(c Counters, sink Sink) error {
	for name, v := range All(c) {
		if err := sink.EncodeString(name); err != nil {
			return err
		}
		if err := sink.EncodeInt(v); err != nil {
			return err
		}
	}
	return nil
}

// Set assigns v to the counter with the given wire name. It reports false if
// no such counter exists.
func (c *Counters) Set(name string, v int64) bool {
	for _, f := range fields {
		if f.name == name {
			*f.ref(c) = v
			return true
		}
	}
	return false
}

// Present returns the present counters of c as ordered pairs.
func Present(c Counters) []Pair {
	pairs := make([]Pair, 0, len(fields))
	for name, v := range All(c) {
		pairs = append(pairs, Pair{Name: name, Value: v})
	}
	return pairs
}
