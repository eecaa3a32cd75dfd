// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"os"
)

// DefaultRedisURL is used by integration tests when TEST_REDIS_URL is unset.
// Database 15 keeps test keys away from real deploy history.
const DefaultRedisURL = "redis://localhost:6379/15"

// RedisURL returns TEST_REDIS_URL or DefaultRedisURL.
func RedisURL() string {
	if v := os.Getenv("TEST_REDIS_URL"); v != "" {
		return v
	}
	return DefaultRedisURL
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
