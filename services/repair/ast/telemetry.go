// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("repair.ast")

	metricsOnce   sync.Once
	parseDuration metric.Float64Histogram
	parseCounter  metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("repair.ast")
	parseDuration, _ = meter.Float64Histogram("repair.ast.parse.duration",
		metric.WithDescription("File parse duration in milliseconds"),
		metric.WithUnit("ms"))
	parseCounter, _ = meter.Int64Counter("repair.ast.parse.total",
		metric.WithDescription("Total parse operations"))
}

// startParseSpan opens a span for one Parse call.
func startParseSpan(ctx context.Context, filePath string, sizeBytes int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "PythonParser.Parse",
		trace.WithAttributes(
			attribute.String("file", filePath),
			attribute.Int("size_bytes", sizeBytes),
		))
}

// setParseSpanResult records extraction counts on a parse span.
func setParseSpanResult(span trace.Span, symbols, errors int) {
	span.SetAttributes(
		attribute.Int("symbols", symbols),
		attribute.Int("errors", errors),
	)
}

// recordParseMetrics records duration and outcome for one Parse call.
func recordParseMetrics(ctx context.Context, elapsed time.Duration, symbols int, success bool) {
	metricsOnce.Do(initMetrics)
	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
	)
	if parseDuration != nil {
		parseDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
	if parseCounter != nil {
		parseCounter.Add(ctx, 1, attrs)
	}
}
