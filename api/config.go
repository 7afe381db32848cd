// Package api provides the HTTP API for storing, recalling and searching
// memories, plus liveness and health endpoints.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8082")
	ListenAddr string

	// DefaultListLimit is the page size of GET /memories without a limit.
	DefaultListLimit int

	// DefaultSearchLimit is the result count of a search without a limit.
	DefaultSearchLimit int
}

const (
	defaultListLimit   = 20
	defaultSearchLimit = 10
	maxLimit           = 1000
)
