// Package telemetry provides metrics and request tagging for structured
// logging.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// sourceKey is the context key naming what triggered a background operation.
	sourceKey contextKey = "source"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	// Endpoint is the route pattern that served the request.
	Endpoint string
	// EntryType is the entry type a query or browse request was scoped to.
	EntryType string
	// Results is the number of entries returned to the client.
	Results int
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, &RequestTags{}))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	return tagsFromContext(r.Context())
}

func tagsFromContext(ctx context.Context) *RequestTags {
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetEndpoint sets the endpoint for logging and the detail metric.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// SetEntryType sets the entry type a request was scoped to.
func SetEntryType(r *http.Request, entryType string) {
	if tags := GetTags(r); tags != nil {
		tags.EntryType = entryType
	}
}

// AddResults adds n to the number of entries returned by a request.
func AddResults(r *http.Request, n int) {
	if tags := GetTags(r); tags != nil {
		tags.Results += n
	}
}

// WithSource returns a context naming the trigger of background work,
// for example "autosave", "api" or "cli".
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// SourceFromContext returns the trigger recorded by WithSource. Request
// contexts report "api"; anything else reports "unknown".
func SourceFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey).(string); ok && s != "" {
		return s
	}
	if tagsFromContext(ctx) != nil {
		return "api"
	}
	return "unknown"
}
