//go:build windows

package doctor

// The Windows console restores its own mode when a process exits.
func resetTerminal() {}
