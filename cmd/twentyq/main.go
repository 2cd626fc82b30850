// Command twentyq runs the guessing-game gateway.
//
// `twentyq serve` exposes the HTTP API under /api, the streaming socket at
// /ws and the tool protocol over WebSocket at /mcp. `twentyq stdio` speaks
// the tool protocol on stdin/stdout for agents that spawn the gateway as a
// subprocess. Both read TWENTYQ_* environment variables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
