package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/RecruitRAG/internal/ai"
	"github.com/pratikjadhav2726/RecruitRAG/internal/logutil"
)

//go:embed prompt.md
var promptTemplate string

const strictFormatNudge = "\n\nIMPORTANT: the previous answer could not be parsed. " +
	"Return ONLY valid JSON with the keys role, experience, skills and description. " +
	"No markdown fences, no commentary, no preamble."

const defaultMaxLogLength = 200

// JobPosting is one structured posting extracted from a careers page.
// Immutable once produced.
type JobPosting struct {
	Role        string   `json:"role"`
	Experience  string   `json:"experience"`
	Skills      []string `json:"skills"`
	Description string   `json:"description"`
}

// Error reports that the completion backend returned text that could not be
// parsed into the posting schema, after all format-nudged retries.
type Error struct {
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Extractor turns raw scraped text into structured job postings via the
// completion backend, retrying malformed output with a stricter instruction.
type Extractor struct {
	completer  ai.Completer
	maxRetries int
	logger     *zap.Logger
}

// New creates an Extractor. maxRetries bounds the retries after the first
// attempt; the total number of completion calls is maxRetries+1.
func New(completer ai.Completer, maxRetries int, logger *zap.Logger) *Extractor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Extractor{
		completer:  completer,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Extract parses rawText into job postings. Malformed backend output is
// retried with a strict-format nudge; service failures are passed through
// untouched so the pipeline can distinguish them from content problems.
func (e *Extractor) Extract(ctx context.Context, rawText string) ([]JobPosting, error) {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return nil, &Error{Attempts: 0, Cause: fmt.Errorf("raw text is empty")}
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{PAGE_DATA}}", rawText)

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		attemptPrompt := prompt
		if attempt > 0 {
			attemptPrompt += strictFormatNudge
		}

		raw, err := e.completer.Complete(ctx, attemptPrompt)
		if err != nil {
			// Collaborator failure, not a content problem. No local retry.
			return nil, err
		}

		if e.logger != nil {
			e.logger.Debug("extraction response",
				zap.Int("attempt", attempt+1),
				zap.String("response_preview", logutil.TruncateForLog(raw, defaultMaxLogLength)),
			)
		}

		postings, err := parsePostings(raw)
		if err == nil {
			return postings, nil
		}

		lastErr = err
		if e.logger != nil {
			e.logger.Warn("extraction output rejected",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		}
	}

	return nil, &Error{Attempts: e.maxRetries + 1, Cause: lastErr}
}

func parsePostings(raw string) ([]JobPosting, error) {
	cleaned := stripCodeFences(raw)

	var payload any
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}

	var items []any
	switch value := payload.(type) {
	case []any:
		items = value
	case map[string]any:
		items = []any{value}
	default:
		return nil, fmt.Errorf("extraction response is neither object nor array")
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("extraction response contains no postings")
	}

	postings := make([]JobPosting, 0, len(items))
	for i, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("posting %d is not an object", i)
		}

		posting := JobPosting{
			Role:        coerceString(record["role"]),
			Experience:  coerceString(record["experience"]),
			Skills:      coerceStrings(record["skills"]),
			Description: coerceString(record["description"]),
		}

		if posting.Role == "" {
			return nil, fmt.Errorf("posting %d is missing required field role", i)
		}

		postings = append(postings, posting)
	}

	return postings, nil
}

func stripCodeFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(strings.Trim(raw, "`"))
}

func coerceString(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%v", value))
	default:
		return ""
	}
}

func coerceStrings(v any) []string {
	switch value := v.(type) {
	case []any:
		var out []string
		for _, item := range value {
			if s := coerceString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(value, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
