// Package gate is the request/response boundary of the engine. A Gate takes
// one action request, runs it through every component and always produces a
// well-formed decision.
//
// # Pipeline
//
//	validate request
//	    ↓
//	detect signals (host signals, action table)
//	    ↓
//	session transaction: turn, evidence, penalties, hazard risk,
//	approaches, errors (one locked update)
//	    ↓
//	circuit states, outstanding debt (locked read), tuning phases
//	    ↓
//	snapshot → evaluate → resolve (override checked once)
//	    ↓
//	incur or settle debt, auto-tune the patterns that fired
//	    ↓
//	response (+ audit entry, metrics, trace span)
//
// # Failures
//
// Malformed requests are allowed without context unless the action is
// Safety-tagged, in which case they are denied. Engine failures such as a
// lock timeout return the category's fail-safe decision together with a
// non-nil *EngineError so callers can map them to a non-zero exit status.
package gate
