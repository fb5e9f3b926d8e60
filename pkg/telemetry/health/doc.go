// Package health implements the daemon's liveness and readiness endpoints.
//
// Liveness only reports that the process serves HTTP. Readiness runs the
// registered component checks concurrently, each bounded by the configured
// timeout: StoreCheck takes a lock in the state directory, AuditCheck
// queries the audit database and RulesCheck requires a non-empty rule set.
// During shutdown SetDraining makes readiness fail before the listener
// closes.
package health
