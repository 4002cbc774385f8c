package score

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "embed"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/RecruitRAG/internal/ai"
	"github.com/pratikjadhav2726/RecruitRAG/internal/extract"
	"github.com/pratikjadhav2726/RecruitRAG/internal/portfolio"
)

//go:embed coherence_prompt.md
var coherencePrompt string

// Kind names the quality signal a score carries.
type Kind string

const (
	KindRetrieval Kind = "retrieval"
	KindCoherence Kind = "coherence"
)

// QualityScore is a scalar quality signal in [0,1] tagged with its kind.
type QualityScore struct {
	Kind  Kind
	Value float64
}

var numberPattern = regexp.MustCompile(`[0-9]*\.?[0-9]+`)

// Scorer computes the two gate signals: a deterministic retrieval-adequacy
// score and a coherence score delegated to the completion backend.
type Scorer struct {
	judge  ai.Completer
	logger *zap.Logger
}

// New creates a Scorer using judge for coherence judgments.
func New(judge ai.Completer, logger *zap.Logger) *Scorer {
	return &Scorer{judge: judge, logger: logger}
}

// RetrievalScore estimates how well the matched entries cover the posting's
// required skills. Each skill contributes full credit when some matched
// skillset names it exactly and half credit on a substring hit. The result is
// deterministic and monotonic in the overlap.
func (s *Scorer) RetrievalScore(posting extract.JobPosting, matches []portfolio.Match, skillsets map[string][]string) QualityScore {
	if len(posting.Skills) == 0 || len(matches) == 0 {
		return QualityScore{Kind: KindRetrieval, Value: 0}
	}

	var credit float64
	for _, skill := range posting.Skills {
		credit += skillCredit(skill, matches, skillsets)
	}

	value := credit / float64(len(posting.Skills))
	if value > 1 {
		value = 1
	}

	return QualityScore{Kind: KindRetrieval, Value: value}
}

func skillCredit(skill string, matches []portfolio.Match, skillsets map[string][]string) float64 {
	want := strings.ToLower(strings.TrimSpace(skill))
	if want == "" {
		return 0
	}

	best := 0.0
	for _, match := range matches {
		for _, have := range skillsets[match.Link] {
			have = strings.ToLower(strings.TrimSpace(have))
			switch {
			case have == want:
				return 1
			case strings.Contains(have, want) || strings.Contains(want, have):
				best = 0.5
			}
		}
	}
	return best
}

// CoherenceScore asks the judge to rate the draft against the posting on a
// 0..1 scale. A judgment that cannot be parsed counts as zero rather than an
// error, so a flaky judge degrades the gate instead of crashing the run.
// Backend failures propagate untouched.
func (s *Scorer) CoherenceScore(ctx context.Context, posting extract.JobPosting, draft string) (QualityScore, error) {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return QualityScore{Kind: KindCoherence, Value: 0}, nil
	}

	postingJSON, err := json.Marshal(posting)
	if err != nil {
		return QualityScore{}, fmt.Errorf("marshal posting: %w", err)
	}

	prompt := strings.ReplaceAll(coherencePrompt, "{{POSTING_JSON}}", string(postingJSON))
	prompt = strings.ReplaceAll(prompt, "{{DRAFT}}", draft)

	raw, err := s.judge.Complete(ctx, prompt)
	if err != nil {
		return QualityScore{}, err
	}

	value, ok := parseScore(raw)
	if !ok && s.logger != nil {
		s.logger.Warn("coherence judgment could not be parsed, scoring zero",
			zap.String("judgment", raw),
		)
	}

	return QualityScore{Kind: KindCoherence, Value: value}, nil
}

func parseScore(raw string) (float64, bool) {
	raw = strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "`"))

	if value, err := strconv.ParseFloat(raw, 64); err == nil {
		return clamp(value), true
	}

	if found := numberPattern.FindString(raw); found != "" {
		if value, err := strconv.ParseFloat(found, 64); err == nil {
			return clamp(value), true
		}
	}

	return 0, false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
