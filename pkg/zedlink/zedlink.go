// Package zedlink assembles the client and server applications: edge-triggered
// control of a remote pointer over a newline-framed JSON protocol.
package zedlink

// Version is the release version of the zedlink binary.
const Version = "0.3.0"

// Options locate the configuration and mutable state on disk.
type Options struct {
	// ConfigFile is the YAML configuration path. A missing file is created
	// with defaults on first start.
	ConfigFile string
	// StateDir holds the peer registry databases.
	StateDir string
	// DryRun makes the server log injected events instead of applying them.
	DryRun bool
}
