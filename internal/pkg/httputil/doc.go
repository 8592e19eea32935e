// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers write every response through these helpers so that JSON
// formatting and the error envelope stay the same across endpoints.
package httputil
