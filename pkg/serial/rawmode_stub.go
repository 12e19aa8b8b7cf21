//go:build !linux

package serial

// setLowLatency is a no-op on platforms without raw termios control;
// the port library's own configuration applies.
func setLowLatency(device string) error { return nil }
