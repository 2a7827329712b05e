package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// maxSchemaRetries bounds how many times ChatJSON re-asks the model after a
// response fails to parse against the target shape, per the SchemaViolation
// contract: retried up to a small fixed bound before failing.
const maxSchemaRetries = 3

// ChatJSON asks provider for a single completion and unmarshals the response
// content into out (a pointer). On a parse failure it re-prompts the model,
// appending the parse error and the offending text so the model can correct
// itself, up to maxSchemaRetries times after the first attempt. Exhausting
// the budget returns ErrSchemaViolation.
func ChatJSON(ctx context.Context, provider Provider, msgs []Message, model string, out any) error {
	attempt := append([]Message(nil), msgs...)
	var lastErr error
	for try := 0; try <= maxSchemaRetries; try++ {
		resp, err := provider.Chat(ctx, attempt, nil, model)
		if err != nil {
			return fmt.Errorf("structured chat: %w", Classify(err))
		}
		text := extractJSON(resp.Content)
		if err := json.Unmarshal([]byte(text), out); err == nil {
			return nil
		} else {
			lastErr = err
			attempt = append(attempt, resp, Message{
				Role: "user",
				Content: fmt.Sprintf(
					"Your previous response was not valid JSON for the required shape (%v). "+
						"Reply again with only the corrected JSON object, no surrounding prose.", err),
			})
		}
	}
	return fmt.Errorf("%w: %v", ErrSchemaViolation, lastErr)
}

// extractJSON strips a ```json ... ``` fence or leading/trailing prose around
// a single JSON object/array, which providers without strict JSON mode
// occasionally add despite instructions not to.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return s
	}
	return s[start : end+1]
}
