// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("repair.index")

// startIndexSpan opens a span for one index operation.
func startIndexSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "CodeIndex."+operation,
		trace.WithAttributes(attribute.String("operation", operation)))
}

// setIndexSpanCount records the result count on an operation span.
func setIndexSpanCount(span trace.Span, count int) {
	span.SetAttributes(attribute.Int("results", count))
}
