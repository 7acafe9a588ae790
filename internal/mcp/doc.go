// Package mcp exposes review runs over the Model Context Protocol so
// agent hosts can start a review and inspect its reasoning trace as
// ordinary tool calls. The server speaks stdio transport only; HTTP
// consumers use pkg/server instead.
package mcp
