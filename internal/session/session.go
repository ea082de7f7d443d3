// Package session manages authenticated user sessions. It handles session
// record creation, lookup, expiration, and destruction of per-session state
// backed by Redis.
package session
