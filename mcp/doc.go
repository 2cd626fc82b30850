// Package mcp holds the subset of Model Context Protocol wire types the tool
// adapter speaks: the initialize handshake, ping and the tools capability.
//
// The package is free of transport logic. The WebSocket and stdio framings
// both marshal these types; neither interprets game payloads, which travel
// as opaque text content inside CallToolResult.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Versions
//
// LatestProtocolVersion is answered to clients requesting a version this
// server does not know. IsSupportedProtocolVersion reports whether a
// requested version can be echoed back as-is.
package mcp
