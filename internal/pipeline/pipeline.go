package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/RecruitRAG/internal/extract"
	"github.com/pratikjadhav2726/RecruitRAG/internal/portfolio"
	"github.com/pratikjadhav2726/RecruitRAG/internal/score"
)

// Stage names a retryable stage for attempt accounting.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageRetrieval  Stage = "retrieval"
	StageCoherence  Stage = "coherence"
)

// Status is the terminal disposition of a single posting's pipeline.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusExhausted  Status = "exhausted"
)

// Outcome is the run-level status surfaced at the CLI boundary.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeDegraded  Outcome = "succeeded-degraded"
	OutcomeExhausted Outcome = "exhausted"
)

// State is the per-posting pipeline state. It is created per posting, mutated
// only by the Controller and discarded after the run.
type State struct {
	Posting       extract.JobPosting
	Matches       []portfolio.Match
	Draft         string
	AttemptCounts map[Stage]int
	FinalEmail    string
	Status        Status
	Degraded      bool
	Err           error
}

func newState(posting extract.JobPosting) *State {
	return &State{
		Posting:       posting,
		AttemptCounts: map[Stage]int{},
		Status:        StatusInProgress,
	}
}

func (s *State) succeed(email string) {
	s.FinalEmail = email
	s.Status = StatusSucceeded
}

func (s *State) exhaust(err error) {
	s.Status = StatusExhausted
	s.Err = err
}

// Config holds the controller's gate thresholds and retry budget. The zero
// value is usable: defaults match the production configuration.
type Config struct {
	RetrievalThreshold float64
	CoherenceThreshold float64
	MaxRetries         int
	TopK               int
	CallTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetrievalThreshold <= 0 {
		c.RetrievalThreshold = 0.8
	}
	if c.CoherenceThreshold <= 0 {
		c.CoherenceThreshold = 0.8
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.TopK < 1 {
		c.TopK = 2
	}
	return c
}

// Extractor produces structured postings from raw page text.
type Extractor interface {
	Extract(ctx context.Context, rawText string) ([]extract.JobPosting, error)
}

// SkillStore answers nearest-match queries over the portfolio index.
type SkillStore interface {
	Query(ctx context.Context, skills []string, k int) ([]portfolio.Match, error)
	Skillsets() map[string][]string
}

// Scorer computes the two gate signals.
type Scorer interface {
	RetrievalScore(posting extract.JobPosting, matches []portfolio.Match, skillsets map[string][]string) score.QualityScore
	CoherenceScore(ctx context.Context, posting extract.JobPosting, draft string) (score.QualityScore, error)
}

// Generator writes a draft email for a posting and its matched links.
type Generator interface {
	Generate(ctx context.Context, posting extract.JobPosting, links []string, nudge string) (string, error)
}

// Deps aggregates the collaborators the controller sequences.
type Deps struct {
	Extractor Extractor
	Store     SkillStore
	Scorer    Scorer
	Generator Generator
	Logger    *zap.Logger
}

// Controller chains extraction, quality-gated retrieval, generation and
// coherence-gated acceptance, bounding retries at each gate and degrading to
// the best candidate seen when a gate's retries exhaust.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New creates a Controller.
func New(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg.withDefaults(), deps: deps, logger: logger}
}

// Run processes one careers page worth of raw text: extraction once, then an
// independent pipeline per extracted posting. The returned slice always has
// at least one state; extraction failure yields a single exhausted state.
func (c *Controller) Run(ctx context.Context, rawText string) []*State {
	callCtx, cancel := c.callContext(ctx)
	postings, err := c.deps.Extractor.Extract(callCtx, rawText)
	cancel()

	if err != nil {
		state := newState(extract.JobPosting{})

		var extractErr *extract.Error
		if errors.As(err, &extractErr) && extractErr.Attempts > 0 {
			state.AttemptCounts[StageExtraction] = extractErr.Attempts - 1
		}
		state.exhaust(err)

		c.logger.Warn("extraction exhausted", zap.Error(err))
		return []*State{state}
	}

	if len(postings) == 0 {
		state := newState(extract.JobPosting{})
		state.exhaust(errors.New("no postings extracted"))
		return []*State{state}
	}

	c.logger.Info("postings extracted", zap.Int("count", len(postings)))

	states := make([]*State, 0, len(postings))
	for _, posting := range postings {
		states = append(states, c.runPosting(ctx, posting))
	}
	return states
}

// runPosting drives one posting through Retrieving, Generating and Validating
// until a terminal status is reached.
func (c *Controller) runPosting(ctx context.Context, posting extract.JobPosting) *State {
	state := newState(posting)

	if len(posting.Skills) == 0 {
		state.exhaust(fmt.Errorf("posting %q has no extractable skills", posting.Role))
		c.logger.Warn("posting rejected before retrieval",
			zap.String("role", posting.Role),
			zap.Error(state.Err),
		)
		return state
	}

	if !c.retrieve(ctx, state) {
		return state
	}

	c.generateAndValidate(ctx, state)
	return state
}

// retrieve runs the retrieval gate. It returns false only when a collaborator
// failed terminally; low scores never block the pipeline on retrieval alone.
func (c *Controller) retrieve(ctx context.Context, state *State) bool {
	var (
		best      []portfolio.Match
		bestScore = -1.0
		k         = c.cfg.TopK
	)

	for {
		callCtx, cancel := c.callContext(ctx)
		matches, err := c.deps.Store.Query(callCtx, state.Posting.Skills, k)
		cancel()

		attempt := QualityAttempt{Score: 0}
		if err != nil {
			if !isTimeout(err) {
				state.exhaust(err)
				c.logger.Warn("retrieval failed", zap.String("role", state.Posting.Role), zap.Error(err))
				return false
			}
			c.logger.Warn("retrieval timed out", zap.String("role", state.Posting.Role))
		} else {
			quality := c.deps.Scorer.RetrievalScore(state.Posting, matches, c.deps.Store.Skillsets())
			attempt = QualityAttempt{Score: quality.Value, Matches: matches}
		}

		// Ties keep the earliest-obtained match set.
		if attempt.Score > bestScore {
			best, bestScore = attempt.Matches, attempt.Score
		}

		c.logger.Info("retrieval scored",
			zap.String("role", state.Posting.Role),
			zap.Float64("score", attempt.Score),
			zap.Int("k", k),
			zap.Int("matches", len(attempt.Matches)),
		)

		if attempt.Score >= c.cfg.RetrievalThreshold {
			state.Matches = attempt.Matches
			return true
		}

		if state.AttemptCounts[StageRetrieval] < c.cfg.MaxRetries {
			state.AttemptCounts[StageRetrieval]++
			k *= 2
			continue
		}

		// Retries exhausted: proceed with the best-scored set seen so far.
		state.Matches = best
		state.Degraded = true
		c.logger.Info("retrieval degraded to best-effort",
			zap.String("role", state.Posting.Role),
			zap.Float64("best_score", bestScore),
		)
		return true
	}
}

// generateAndValidate runs the Generating and Validating stages with the
// coherence gate between them.
func (c *Controller) generateAndValidate(ctx context.Context, state *State) {
	links := make([]string, 0, len(state.Matches))
	for _, match := range state.Matches {
		links = append(links, match.Link)
	}

	var (
		bestDraft string
		bestScore = -1.0
		nudge     string
	)

	for {
		callCtx, cancel := c.callContext(ctx)
		draft, err := c.deps.Generator.Generate(callCtx, state.Posting, links, nudge)
		cancel()

		if err != nil {
			if isTimeout(err) {
				if c.retryCoherence(state, &nudge, 0) {
					continue
				}
				if bestDraft != "" {
					c.acceptDegraded(state, bestDraft, bestScore)
					return
				}
			}
			state.exhaust(err)
			c.logger.Warn("generation failed", zap.String("role", state.Posting.Role), zap.Error(err))
			return
		}
		state.Draft = draft

		callCtx, cancel = c.callContext(ctx)
		quality, err := c.deps.Scorer.CoherenceScore(callCtx, state.Posting, draft)
		cancel()

		if err != nil {
			if isTimeout(err) {
				if bestDraft == "" {
					bestDraft, bestScore = draft, 0
				}
				if c.retryCoherence(state, &nudge, 0) {
					continue
				}
				c.acceptDegraded(state, bestDraft, bestScore)
				return
			}
			state.exhaust(err)
			c.logger.Warn("coherence scoring failed", zap.String("role", state.Posting.Role), zap.Error(err))
			return
		}

		c.logger.Info("coherence scored",
			zap.String("role", state.Posting.Role),
			zap.Float64("score", quality.Value),
		)

		// A strictly better earlier draft is kept; otherwise the most recent
		// draft becomes the best-effort candidate.
		if quality.Value >= bestScore {
			bestDraft, bestScore = draft, quality.Value
		}

		if quality.Value >= c.cfg.CoherenceThreshold {
			state.succeed(draft)
			return
		}

		if c.retryCoherence(state, &nudge, quality.Value) {
			continue
		}

		c.acceptDegraded(state, bestDraft, bestScore)
		return
	}
}

// retryCoherence books one coherence retry if the budget allows and prepares
// the regeneration nudge.
func (c *Controller) retryCoherence(state *State, nudge *string, lastScore float64) bool {
	if state.AttemptCounts[StageCoherence] >= c.cfg.MaxRetries {
		return false
	}
	state.AttemptCounts[StageCoherence]++
	*nudge = fmt.Sprintf(
		"The previous draft scored %.2f for coherence, below the %.2f acceptance bar. Rewrite it to address the posting's role and required skills directly.",
		lastScore, c.cfg.CoherenceThreshold,
	)
	return true
}

func (c *Controller) acceptDegraded(state *State, draft string, draftScore float64) {
	state.Degraded = true
	state.succeed(draft)
	c.logger.Info("coherence degraded to best-effort",
		zap.String("role", state.Posting.Role),
		zap.Float64("best_score", draftScore),
	)
}

// QualityAttempt pairs one retrieval attempt's match set with its score.
type QualityAttempt struct {
	Score   float64
	Matches []portfolio.Match
}

// RunOutcome folds per-posting states into the run-level status: any success
// makes the run a success, any degraded success marks it degraded, and a run
// with no successful posting at all is exhausted.
func RunOutcome(states []*State) Outcome {
	succeeded := false
	degraded := false
	for _, state := range states {
		if state.Status == StatusSucceeded {
			succeeded = true
			if state.Degraded {
				degraded = true
			}
		}
	}

	switch {
	case succeeded && degraded:
		return OutcomeDegraded
	case succeeded:
		return OutcomeSucceeded
	default:
		return OutcomeExhausted
	}
}

func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
