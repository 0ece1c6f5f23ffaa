package coreql

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/entityql/coreql/internal/tracing"
)

// StartSpan mirrors the dotted span-name convention the teacher uses
// around its own indexing calls (e.g. "pilosa.Save.bitBatch"); the
// core names its spans "ql.compile", "partition.evaluate",
// "segment.compute" and "result.merge". It delegates to
// internal/tracing so lower layers (ql, segment) can start spans of
// their own without importing this root package.
func StartSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	return tracing.StartSpan(ctx, operationName)
}
