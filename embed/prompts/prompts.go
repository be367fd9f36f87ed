package prompts

import _ "embed"

// Instructions is sent to MCP clients on initialize. It describes the relay
// protocol a worker follows.
//
//go:embed instructions.md
var Instructions string

// Worker is the prompt handed to a fresh worker agent.
//
//go:embed worker.md
var Worker string
