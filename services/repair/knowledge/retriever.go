// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge retrieves previously solved problems from a
// Weaviate collection so similar fixes can be fed to the patch
// generator as context. Retrieval is strictly advisory: every failure
// degrades to an empty result set and the repair loop proceeds
// without it.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// SolvedProblemClass is the Weaviate class holding prior fixes.
const SolvedProblemClass = "SolvedProblem"

// DefaultTopK bounds a search when the caller passes no limit.
const DefaultTopK = 3

// ErrEmptyQuery is returned before any network call is made.
var ErrEmptyQuery = errors.New("knowledge: query must not be empty")

// Document is one retrieved solved problem.
type Document struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Retriever performs read-only nearText searches over the solved
// problem collection.
type Retriever struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewRetriever wraps an already-connected Weaviate client.
func NewRetriever(client *weaviate.Client, logger *slog.Logger) (*Retriever, error) {
	if client == nil {
		return nil, errors.New("knowledge: client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{client: client, logger: logger}, nil
}

// Search finds solved problems semantically close to the query.
//
// Description:
//
//	Runs a nearText GraphQL query over the SolvedProblem class and
//	returns up to topK documents ordered by certainty. Weaviate being
//	down, misconfigured, or empty is not an error for the caller: the
//	result is simply empty and a warning is logged, because retrieval
//	only enriches the fix prompt.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - query: Natural-language description of the failure.
//   - topK: Maximum documents to return; DefaultTopK when <= 0.
//
// Outputs:
//   - []Document: Best matches, possibly empty. Never nil on success.
//   - error: Only ErrEmptyQuery; transport failures degrade to empty.
//
// Thread Safety: Safe for concurrent use.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]Document, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "problemId"},
		{Name: "content"},
		{Name: "errorKind"},
		{Name: "language"},
		{Name: "_additional { certainty }"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(SolvedProblemClass).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		r.logger.Warn("knowledge search degraded to empty", "error", err)
		return []Document{}, nil
	}
	if len(result.Errors) > 0 {
		r.logger.Warn("knowledge search returned errors",
			"error", result.Errors[0].Message)
		return []Document{}, nil
	}

	docs := parseDocuments(result)
	r.logger.Debug("knowledge search",
		slog.String("query", query),
		slog.Int("top_k", topK),
		slog.Int("results", len(docs)))
	return docs, nil
}

// parseDocuments unwraps the GraphQL response shape. Malformed objects
// are skipped rather than failing the batch.
func parseDocuments(result *models.GraphQLResponse) []Document {
	docs := []Document{}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return docs
	}
	objects, ok := data[SolvedProblemClass].([]interface{})
	if !ok {
		return docs
	}

	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		doc := Document{
			ID:      getString(m, "problemId"),
			Content: getString(m, "content"),
			Metadata: map[string]string{
				"error_kind": getString(m, "errorKind"),
				"language":   getString(m, "language"),
			},
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				doc.Similarity = certainty
			}
		}
		if doc.Content == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// Snippets renders documents into prompt-sized strings.
func Snippets(docs []Document) []string {
	snippets := make([]string, 0, len(docs))
	for _, doc := range docs {
		snippets = append(snippets, fmt.Sprintf("similar solved problem (certainty %.2f): %s", doc.Similarity, doc.Content))
	}
	return snippets
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
