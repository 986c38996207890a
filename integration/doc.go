//go:build integration

// Package integration provides integration tests for zipstore.
//
// These tests require Docker and serve archives from a real nginx container
// using testcontainers, so every read goes through genuine HTTP range
// handling.
// Run with: go test -tags=integration ./integration/...
package integration
