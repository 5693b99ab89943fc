// Package integration exercises a running explorer end to end against the
// mock registry. Start the stack first:
//
//	go run ./test/mock/servers/registry
//	go run ./cmd/agentscan
//
// Tests skip when either process is not listening, so the package stays
// green in a plain go test ./... run.
package integration

import (
	"net"
	"testing"
	"time"
)

const (
	explorerAddr = "localhost:8880"
	explorerURL  = "http://localhost:8880"
	registryAddr = "localhost:8881"
)

// isServerRunning checks if a server is listening at the given address
func isServerRunning(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 1*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// skipIfServerNotRunning skips the test if the server is not running
func skipIfServerNotRunning(t *testing.T, addr string) {
	t.Helper()
	if !isServerRunning(addr) {
		t.Skipf("Skipping integration test: server not running at %s", addr)
	}
}

// skipIfStackNotRunning skips the test unless both the explorer and the
// mock registry are up.
func skipIfStackNotRunning(t *testing.T) {
	t.Helper()
	skipIfServerNotRunning(t, explorerAddr)
	skipIfServerNotRunning(t, registryAddr)
}
