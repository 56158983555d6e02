// Package client talks to the management API of a gophmove server on
// behalf of the operator CLI, and bootstraps the CLI's local SQLite
// database.
//
// Non-2xx responses are mapped onto the shared sentinels in
// internal/common, so callers match them with errors.Is. A server that
// cannot be reached yields ErrUnavailable.
package client
