// Package redact scans review output for leaked credentials before it
// leaves the process. Reports and traces quote diff hunks verbatim, so
// any secret committed to the change under review would otherwise be
// echoed into logs, event streams and API responses.
package redact
