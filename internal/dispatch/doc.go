// Package dispatch runs channel attempts for ingested contacts.
//
// The Coordinator turns each pending (contact, channel) pair into a task on
// a bounded worker Pool. A task claims the channel with a compare-and-set
// (pending -> in_progress) under a short dispatch lock, calls the channel
// client, and always writes a terminal status, even if the client panics or
// the caller has gone away. Recovery sweeps periodically for pending work
// that never reached the pool and for attempts abandoned by a crashed
// process.
//
// Nothing here retries automatically. A failed channel stays failed until
// an operator re-triggers it.
package dispatch
