// Package state provides the persistence layer shared by every gatekeeper
// component.
//
// Gatekeeper is usually invoked as a short-lived process per agent action, so
// no in-process memory survives between decisions. All durable state lives in
// named JSON documents behind the Store interface, and every mutation goes
// through an exclusive per-document lock:
//
//	sess, err := state.WithLockedUpdate(ctx, store, "session-abc",
//	    func() *Session { return &Session{} },
//	    func(s *Session) error {
//	        s.Counter++
//	        return nil
//	    })
//
// FileStore implements the locking with flock(2) on a dedicated lock file per
// document and writes through a temporary file followed by rename(2), so a
// crash mid-write always leaves the previous document intact. Reads outside a
// lock are best-effort: ReadBestEffort falls back to the supplied defaults when
// a document is missing or cannot be decoded.
//
// Telemetry streams (evidence, penalties, circuit transitions, debt) are kept
// separately in append-only JSONL files managed by Ledger.
package state
