// Package httputil provides shared HTTP response/request utilities for the
// engine's API handlers: a consistent JSON envelope and body decoding.
package httputil
