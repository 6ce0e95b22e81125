// Package core is the orchestration layer.  It composes the dialer,
// connector and sessions into complete operational modes and provides
// a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  connector  →  session  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of ptun (port
// forwarding or a single stdio tunnel).  Each mode owns its full
// lifecycle from listening or dialling to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
