// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/AleutianAI/remedy/services/llm"
)

const (
	// DefaultMaxConversationTokens is the ceiling the compressor keeps
	// the history under.
	DefaultMaxConversationTokens = 8000

	// compressTriggerRatio: compression starts at this fraction of the
	// ceiling, leaving room for the next response.
	compressTriggerRatio = 0.5

	// preserveRatio is the fraction of recent messages kept verbatim.
	preserveRatio = 0.3

	// tokenCountModel picks the tokenizer table for counting.
	tokenCountModel = "gpt-4"

	// summarizedCharsPerMessage caps how much of each old message feeds
	// the summarization prompt.
	summarizedCharsPerMessage = 200
)

// Compressor keeps a long investigation conversation inside the token
// budget: older turns are summarized (by the model, with a deterministic
// fallback), the most recent fraction stays verbatim, and the scratchpad
// rides along so nothing load-bearing is lost.
type Compressor struct {
	client    llm.Client
	maxTokens int
	logger    *slog.Logger
}

// NewCompressor creates a compressor with the default budget.
func NewCompressor(client llm.Client) *Compressor {
	return &Compressor{
		client:    client,
		maxTokens: DefaultMaxConversationTokens,
		logger:    slog.Default(),
	}
}

// WithMaxTokens overrides the token ceiling.
func (c *Compressor) WithMaxTokens(n int) *Compressor {
	if n > 0 {
		c.maxTokens = n
	}
	return c
}

// CompressIfNeeded returns the messages unchanged while they fit, or a
// compressed history otherwise.
//
// Description:
//
//	The system prompt always survives. The oldest (1 - preserveRatio)
//	of the remaining messages are replaced by a single user message
//	holding a summary plus the current scratchpad; the rest stay
//	verbatim. Summarization asks the model first and falls back to a
//	deterministic digest if that call fails, so compression itself can
//	never sink the investigation.
func (c *Compressor) CompressIfNeeded(ctx context.Context, messages []llm.ChatMessage, pad *Scratchpad) ([]llm.ChatMessage, error) {
	tokens := c.countTokens(messages)
	if float64(tokens) < float64(c.maxTokens)*compressTriggerRatio {
		return messages, nil
	}
	if len(messages) < 3 {
		return messages, nil
	}

	c.logger.Info("compressing conversation", "tokens", tokens, "max", c.maxTokens)

	systemMsg := messages[0]
	rest := messages[1:]
	splitIdx := int(float64(len(rest)) * (1 - preserveRatio))
	if splitIdx < 1 {
		return messages, nil
	}
	early := rest[:splitIdx]
	recent := rest[splitIdx:]

	summary := c.summarize(ctx, early)

	compressed := make([]llm.ChatMessage, 0, len(recent)+2)
	compressed = append(compressed, systemMsg)
	compressed = append(compressed, llm.ChatMessage{
		Role:    "user",
		Content: fmt.Sprintf("## Earlier investigation (summarized)\n%s\n\n%s", summary, pad.Render()),
	})
	compressed = append(compressed, recent...)

	c.logger.Info("conversation compressed",
		"before_tokens", tokens,
		"after_tokens", c.countTokens(compressed),
		"dropped_messages", len(early),
	)
	return compressed, nil
}

func (c *Compressor) countTokens(messages []llm.ChatMessage) int {
	total := 0
	for _, msg := range messages {
		if msg.Content != "" {
			total += llms.CountTokens(tokenCountModel, msg.Content)
		}
	}
	return total
}

// summarize condenses the early messages, preferring a model-written
// summary.
func (c *Compressor) summarize(ctx context.Context, messages []llm.ChatMessage) string {
	if len(messages) == 0 {
		return "No earlier conversation."
	}

	var parts []string
	for _, msg := range messages {
		content := msg.Content
		if len(content) > summarizedCharsPerMessage {
			content = content[:summarizedCharsPerMessage] + "..."
		}
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("- %s: %s", msg.Role, content))
	}

	prompt := fmt.Sprintf(`Summarize the key actions and findings of this investigation
so far in under 150 words: what was done, what was learned, and the current direction.

%s`, strings.Join(parts, "\n"))

	summary, err := c.client.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
	if err != nil {
		c.logger.Warn("model summary failed, using fallback digest", "error", err)
		return c.fallbackDigest(messages)
	}
	return summary
}

// fallbackDigest is the deterministic summary used when the model call
// fails.
func (c *Compressor) fallbackDigest(messages []llm.ChatMessage) string {
	toolUses := make(map[string]int)
	for _, msg := range messages {
		if msg.Role == "tool" && msg.ToolName != "" {
			toolUses[msg.ToolName]++
		}
	}

	names := make([]string, 0, len(toolUses))
	for name := range toolUses {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]string, 0, len(names))
	for _, name := range names {
		tools = append(tools, fmt.Sprintf("%s x%d", name, toolUses[name]))
	}
	toolLine := "none recorded"
	if len(tools) > 0 {
		toolLine = strings.Join(tools, ", ")
	}

	return fmt.Sprintf(
		"%d earlier messages elided. Tools used: %s. Key findings are preserved in the scratchpad below.",
		len(messages), toolLine,
	)
}
