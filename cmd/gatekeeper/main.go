// Gatekeeper is a runtime policy-and-trust engine for autonomous coding
// agents. Every proposed action passes through it and comes back as
// allow, warn or deny.
//
// Usage:
//
//	# Decide one request (JSON on stdin, response JSON on stdout)
//	echo '{"action":"bash","sessionId":"s1","turn":3,"parameters":{"command":"make test"}}' | gatekeeper decide
//
//	# Report the outcome of an allowed action
//	echo '{"action":"bash","sessionId":"s1","turn":3,"success":false,"error":"FAIL"}' | gatekeeper outcome
//
//	# Run the daemon
//	gatekeeper serve --config gatekeeper.yaml
//
//	# Inspect state
//	gatekeeper session show s1
//	gatekeeper circuit status
//	gatekeeper debt list
//	gatekeeper tune status
//
//	# Validate rule files
//	gatekeeper rules lint rules/
//
// Exit status is 0 for every well-formed decision, deny included, and 1
// when the decision fell back to its fail-safe because of an engine
// failure.
package main

import "os"

func main() {
	os.Exit(Execute())
}
