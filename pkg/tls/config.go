// Package tls builds listener TLS configuration for the explorer.
package tls

import (
	"crypto/tls"
	"fmt"
)

// Server builds a tls.Config for the explorer listener. minVersion uses
// the "1.2" notation; empty selects TLS 1.2.
func Server(certFile, keyFile, minVersion string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   ParseTLSVersion(minVersion),
	}, nil
}
