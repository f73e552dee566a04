// Package requestid tags HTTP requests with a correlation id that flows into
// the request context and, through LoggerExtractor, into every log record.
package requestid
