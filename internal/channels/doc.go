// Package channels holds one client per outbound channel. A client turns a
// contact into a single attempt against its collaborator and normalises
// every possible outcome, including transport errors and timeouts, into a
// domain.Result. Clients never retry on their own: a retried side effect
// could contact the same person twice.
package channels
