//go:build tools
// +build tools

// Package cursor_chat pins the code generators used by go:generate.
//
// mockgen produces the contract mocks under mocks/. Importing it here keeps
// it in go.mod so a fresh checkout can regenerate them.
package cursor_chat

import (
	_ "go.uber.org/mock/mockgen"
)
