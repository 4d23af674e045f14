// Package info answers info requests with a snapshot of the server counters.
//
// A reply carries two counter maps: "global", holding the process-wide
// counters, and "connection", holding the counters of the connection the
// request arrived on. Counters that are not tracked in a scope are left out of
// that scope's map.
package info
