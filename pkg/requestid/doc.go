// Package requestid tags every request with an id that flows into logs,
// audit events and the X-Request-ID response header.
package requestid
