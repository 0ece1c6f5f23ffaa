// Package tracing wraps opentracing-go's span API in a leaf package so
// both the root engine and the lower layers it orchestrates (ql,
// segment) can start spans without the root package importing them
// and creating an import cycle.
package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
)

// StartSpan mirrors the dotted span-name convention the teacher uses
// around its own indexing calls (e.g. "pilosa.Save.bitBatch"); callers
// in this tree name their spans "ql.compile", "partition.evaluate",
// "segment.compute" and "result.merge".
func StartSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContext(ctx, operationName)
}
