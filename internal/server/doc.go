// Package server implements the HTTP server and HTTP handlers for the
// imagehub backend. It wires together the routes, dependencies (database,
// object storage, fragment staging directory), and provides the lifecycle
// helpers used by tests and the production binary.
package server
