// Package logging builds the structured loggers used across gatekeeper.
//
// Loggers are plain *slog.Logger values. New wraps the JSON or text handler
// with two layers:
//   - a context handler that copies the session id, turn and request id
//     stored by WithSessionID, WithTurn and WithRequestID onto every record
//     logged with a *Context method
//   - a Redactor that masks override tokens and other secrets before they
//     reach the output
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:   "info",
//	    Format:  "json",
//	    Writer:  os.Stderr,
//	    Secrets: cfg.Policy.OverrideTokens,
//	})
//	ctx = logging.WithSessionID(ctx, "sess-1")
//	logger.InfoContext(ctx, "decision", "decision", "deny")
//
// In per-invocation CLI mode the logger writes to stderr so stdout carries
// only the JSON response.
package logging
