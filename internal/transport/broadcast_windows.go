//go:build windows

package transport

import "github.com/cbx-nz/sanchez/internal/sanchezerr"

// Broadcast transport is not wired up on Windows builds; the SO_BROADCAST
// setsockopt call in broadcast.go uses Unix option constants.
func NewBroadcastSender(port int) (Conn, error) {
	return nil, sanchezerr.New(sanchezerr.ClassIO, "udp broadcast transport is unavailable on windows builds")
}

func ListenBroadcast(port int) (Conn, error) {
	return nil, sanchezerr.New(sanchezerr.ClassIO, "udp broadcast transport is unavailable on windows builds")
}
