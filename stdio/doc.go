// Package stdio serves the tool protocol over stdin/stdout. It is meant for
// agents that spawn the game server as a subprocess and pipe JSON to it.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : none; the OS user is logged as the implicit principal
//	Games            : shared with every other transport of the process
//	Transport        : newline-delimited JSON-RPC
//
// Example:
//
//	srv := toolrpc.New(gw)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
