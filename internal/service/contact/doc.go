// Package contact implements contact intake and the query/re-trigger
// surface.
//
// Ingest validates an inbound payload, stores any attached media, assigns
// the contact id, evaluates channel eligibility, persists the record and
// hands it to the dispatcher. The dispatcher runs asynchronously; Ingest
// never waits on a channel.
//
// The Repository contract lives here. Implementations are in
// repository/file, repository/memory, repository/postgres and
// repository/dynamo.
package contact
