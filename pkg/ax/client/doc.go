// Package client implements the pass-through HTTP client ax uses for the
// public, private, permission and role sample endpoints, attaching the stored
// bearer token and a per-request correlation ID.
package client
