package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/RecruitRAG/internal/ai"
	"github.com/pratikjadhav2726/RecruitRAG/internal/extract"
	"github.com/pratikjadhav2726/RecruitRAG/internal/portfolio"
	"github.com/pratikjadhav2726/RecruitRAG/internal/score"
)

type stubExtractor struct {
	postings []extract.JobPosting
	err      error
}

func (s *stubExtractor) Extract(context.Context, string) ([]extract.JobPosting, error) {
	return s.postings, s.err
}

type stubStore struct {
	matches   []portfolio.Match
	skillsets map[string][]string
	err       error
	ks        []int
}

func (s *stubStore) Query(_ context.Context, _ []string, k int) ([]portfolio.Match, error) {
	s.ks = append(s.ks, k)
	if s.err != nil {
		return nil, s.err
	}
	return s.matches, nil
}

func (s *stubStore) Skillsets() map[string][]string {
	return s.skillsets
}

// stubScorer returns scripted score sequences; the last value repeats once a
// sequence is consumed.
type stubScorer struct {
	retrieval    []float64
	coherence    []float64
	coherenceErr error

	retrievalCalls int
	coherenceCalls int
}

func takeScore(sequence []float64, call int) float64 {
	if len(sequence) == 0 {
		return 0
	}
	if call >= len(sequence) {
		call = len(sequence) - 1
	}
	return sequence[call]
}

func (s *stubScorer) RetrievalScore(extract.JobPosting, []portfolio.Match, map[string][]string) score.QualityScore {
	value := takeScore(s.retrieval, s.retrievalCalls)
	s.retrievalCalls++
	return score.QualityScore{Kind: score.KindRetrieval, Value: value}
}

func (s *stubScorer) CoherenceScore(context.Context, extract.JobPosting, string) (score.QualityScore, error) {
	if s.coherenceErr != nil {
		return score.QualityScore{}, s.coherenceErr
	}
	value := takeScore(s.coherence, s.coherenceCalls)
	s.coherenceCalls++
	return score.QualityScore{Kind: score.KindCoherence, Value: value}, nil
}

type stubGenerator struct {
	err    error
	calls  int
	nudges []string
}

func (s *stubGenerator) Generate(_ context.Context, _ extract.JobPosting, _ []string, nudge string) (string, error) {
	s.calls++
	s.nudges = append(s.nudges, nudge)
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("draft-%d", s.calls), nil
}

func dataSciencePosting() extract.JobPosting {
	return extract.JobPosting{
		Role:        "Data Scientist",
		Experience:  "3+ years",
		Skills:      []string{"Python", "SQL"},
		Description: "Build predictive models.",
	}
}

func controllerWith(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return New(Config{MaxRetries: 2, TopK: 2}, deps)
}

func TestRunFirstAttemptRetrievalSuccess(t *testing.T) {
	store := &stubStore{
		matches:   []portfolio.Match{{Link: "https://x/py-sql", Relevance: 0.95}},
		skillsets: map[string][]string{"https://x/py-sql": {"Python", "SQL"}},
	}
	scorer := &stubScorer{retrieval: []float64{0.9}, coherence: []float64{0.9}}
	generator := &stubGenerator{}

	states := controllerWith(Deps{
		Extractor: &stubExtractor{postings: []extract.JobPosting{dataSciencePosting()}},
		Store:     store,
		Scorer:    scorer,
		Generator: generator,
	}).Run(context.Background(), "raw page text")

	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}

	state := states[0]
	if state.Status != StatusSucceeded || state.Degraded {
		t.Fatalf("expected clean success, got status=%s degraded=%v", state.Status, state.Degraded)
	}

	if state.AttemptCounts[StageRetrieval] != 0 {
		t.Fatalf("expected no retrieval retry, got %d", state.AttemptCounts[StageRetrieval])
	}

	if len(state.Matches) != 1 || state.Matches[0].Link != "https://x/py-sql" {
		t.Fatalf("expected the portfolio match, got %+v", state.Matches)
	}

	if len(store.ks) != 1 {
		t.Fatalf("expected single query, got %d", len(store.ks))
	}

	if state.FinalEmail == "" {
		t.Fatal("expected final email to be set on success")
	}
}

func TestRunRetrievalRetriesDoubleKThenDegrade(t *testing.T) {
	store := &stubStore{matches: []portfolio.Match{{Link: "https://x/react"}}}
	scorer := &stubScorer{retrieval: []float64{0.2, 0.3, 0.25}, coherence: []float64{0.9}}

	states := controllerWith(Deps{
		Extractor: &stubExtractor{postings: []extract.JobPosting{dataSciencePosting()}},
		Store:     store,
		Scorer:    scorer,
		Generator: &stubGenerator{},
	}).Run(context.Background(), "raw")

	state := states[0]

	// MaxRetries+1 attempts, k doubled on each retry.
	if len(store.ks) != 3 {
		t.Fatalf("expected 3 query attempts, got %d", len(store.ks))
	}
	if store.ks[0] != 2 || store.ks[1] != 4 || store.ks[2] != 8 {
		t.Fatalf("expected k to double per retry, got %v", store.ks)
	}

	if state.AttemptCounts[StageRetrieval] != 2 {
		t.Fatalf("expected retrieval attempts at limit, got %d", state.AttemptCounts[StageRetrieval])
	}

	// Retrieval alone never blocks the pipeline.
	if state.Status != StatusSucceeded || !state.Degraded {
		t.Fatalf("expected degraded success, got status=%s degraded=%v", state.Status, state.Degraded)
	}
}

func TestRunCoherenceAlwaysLowDegradesToFinalDraft(t *testing.T) {
	generator := &stubGenerator{}
	scorer := &stubScorer{retrieval: []float64{0.9}, coherence: []float64{0.5}}

	states := controllerWith(Deps{
		Extractor: &stubExtractor{postings: []extract.JobPosting{dataSciencePosting()}},
		Store:     &stubStore{matches: []portfolio.Match{{Link: "https://x/py-sql"}}},
		Scorer:    scorer,
		Generator: generator,
	}).Run(context.Background(), "raw")

	state := states[0]

	if state.Status != StatusSucceeded || !state.Degraded {
		t.Fatalf("expected degraded success, got status=%s degraded=%v", state.Status, state.Degraded)
	}

	if state.AttemptCounts[StageCoherence] != 2 {
		t.Fatalf("expected coherence attempts at limit, got %d", state.AttemptCounts[StageCoherence])
	}

	// Initial generation plus two regenerations; the final attempt's draft
	// is accepted when no earlier draft scored strictly higher.
	if generator.calls != 3 {
		t.Fatalf("expected 3 generations, got %d", generator.calls)
	}

	if state.FinalEmail != "draft-3" {
		t.Fatalf("expected the final attempt's draft, got %q", state.FinalEmail)
	}

	if generator.nudges[0] != "" {
		t.Fatal("first generation must not carry a nudge")
	}
	for i, nudge := range generator.nudges[1:] {
		if nudge == "" {
			t.Fatalf("regeneration %d missing the coherence nudge", i+1)
		}
	}
}

func TestRunKeepsStrictlyBetterEarlierDraft(t *testing.T) {
	generator := &stubGenerator{}
	scorer := &stubScorer{retrieval: []float64{0.9}, coherence: []float64{0.6, 0.4, 0.3}}

	states := controllerWith(Deps{
		Extractor: &stubExtractor{postings: []extract.JobPosting{dataSciencePosting()}},
		Store:     &stubStore{matches: []portfolio.Match{{Link: "https://x/py-sql"}}},
		Scorer:    scorer,
		Generator: generator,
	}).Run(context.Background(), "raw")

	state := states[0]

	if state.Status != StatusSucceeded || !state.Degraded {
		t.Fatalf("expected degraded success, got status=%s degraded=%v", state.Status, state.Degraded)
	}

	if state.FinalEmail != "draft-1" {
		t.Fatalf("expected the best-scored draft, got %q", state.FinalEmail)
	}
}

func TestRunExtractionExhaustion(t *testing.T) {
	extractErr := &extract.Error{Attempts: 3, Cause: errors.New("never valid json")}

	states := controllerWith(Deps{
		Extractor: &stubExtractor{err: extractErr},
		Store:     &stubStore{},
		Scorer:    &stubScorer{},
		Generator: &stubGenerator{},
	}).Run(context.Background(), "raw")

	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}

	state := states[0]
	if state.Status != StatusExhausted {
		t.Fatalf("expected exhausted, got %s", state.Status)
	}

	if state.FinalEmail != "" {
		t.Fatalf("expected empty final email, got %q", state.FinalEmail)
	}

	if state.AttemptCounts[StageExtraction] != 2 {
		t.Fatalf("expected 2 recorded extraction retries, got %d", state.AttemptCounts[StageExtraction])
	}
}

func TestRunServiceErrorExhaustsImmediately(t *testing.T) {
	serviceErr := ai.NewServiceError("embed content", errors.New("backend down"))

	store := &stubStore{err: serviceErr}
	states := controllerWith(Deps{
		Extractor: &stubExtractor{postings: []extract.JobPosting{dataSciencePosting()}},
		Store:     store,
		Scorer:    &stubScorer{retrieval: []float64{0.9}},
		Generator: &stubGenerator{},
	}).Run(context.Background(), "raw")

	state := states[0]
	if state.Status != StatusExhausted {
		t.Fatalf("expected exhausted, got %s", state.Status)
	}

	if len(store.ks) != 1 {
		t.Fatalf("expected no retry on service error, got %d queries", len(store.ks))
	}

	if !ai.IsServiceError(state.Err) {
		t.Fatalf("expected classified service error, got %v", state.Err)
	}
}

func TestRunRejectsPostingWithoutSkills(t *testing.T) {
	postings := []extract.JobPosting{
		{Role: "Mystery Role", Description: "No skills listed."},
		dataSciencePosting(),
	}

	store := &stubStore{matches: []portfolio.Match{{Link: "https://x/py-sql"}}}
	states := controllerWith(Deps{
		Extractor: &stubExtractor{postings: postings},
		Store:     store,
		Scorer:    &stubScorer{retrieval: []float64{0.9}, coherence: []float64{0.9}},
		Generator: &stubGenerator{},
	}).Run(context.Background(), "raw")

	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}

	if states[0].Status != StatusExhausted {
		t.Fatalf("expected skill-less posting exhausted, got %s", states[0].Status)
	}

	if states[1].Status != StatusSucceeded {
		t.Fatalf("expected second posting processed, got %s", states[1].Status)
	}
}

func TestRunDeterministicWithStubDelegates(t *testing.T) {
	build := func() *Controller {
		return controllerWith(Deps{
			Extractor: &stubExtractor{postings: []extract.JobPosting{dataSciencePosting()}},
			Store:     &stubStore{matches: []portfolio.Match{{Link: "https://x/py-sql"}}},
			Scorer:    &stubScorer{retrieval: []float64{0.5, 0.6, 0.7}, coherence: []float64{0.5}},
			Generator: &stubGenerator{},
		})
	}

	first := build().Run(context.Background(), "raw")
	second := build().Run(context.Background(), "raw")

	if len(first) != len(second) {
		t.Fatalf("state counts differ: %d vs %d", len(first), len(second))
	}

	for i := range first {
		if first[i].Status != second[i].Status ||
			first[i].Degraded != second[i].Degraded ||
			first[i].FinalEmail != second[i].FinalEmail {
			t.Fatalf("run %d not deterministic: %+v vs %+v", i, first[i], second[i])
		}
		for stage, count := range first[i].AttemptCounts {
			if second[i].AttemptCounts[stage] != count {
				t.Fatalf("attempt counts differ for %s: %d vs %d", stage, count, second[i].AttemptCounts[stage])
			}
		}
	}
}

func TestRunGenerationFailureExhausts(t *testing.T) {
	genErr := ai.NewServiceError("generate content", errors.New("unavailable"))

	states := controllerWith(Deps{
		Extractor: &stubExtractor{postings: []extract.JobPosting{dataSciencePosting()}},
		Store:     &stubStore{matches: []portfolio.Match{{Link: "https://x/py-sql"}}},
		Scorer:    &stubScorer{retrieval: []float64{0.9}},
		Generator: &stubGenerator{err: genErr},
	}).Run(context.Background(), "raw")

	state := states[0]
	if state.Status != StatusExhausted {
		t.Fatalf("expected exhausted, got %s", state.Status)
	}

	if state.FinalEmail != "" {
		t.Fatalf("expected empty final email, got %q", state.FinalEmail)
	}
}

func TestRunOutcome(t *testing.T) {
	t.Parallel()

	succeeded := &State{Status: StatusSucceeded}
	degraded := &State{Status: StatusSucceeded, Degraded: true}
	exhausted := &State{Status: StatusExhausted}

	tests := []struct {
		name   string
		states []*State
		expect Outcome
	}{
		{name: "all succeeded", states: []*State{succeeded}, expect: OutcomeSucceeded},
		{name: "mixed success and exhausted", states: []*State{succeeded, exhausted}, expect: OutcomeSucceeded},
		{name: "degraded success", states: []*State{degraded}, expect: OutcomeDegraded},
		{name: "degraded among clean", states: []*State{succeeded, degraded}, expect: OutcomeDegraded},
		{name: "all exhausted", states: []*State{exhausted}, expect: OutcomeExhausted},
		{name: "empty", states: nil, expect: OutcomeExhausted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := RunOutcome(tc.states); got != tc.expect {
				t.Fatalf("expected %s, got %s", tc.expect, got)
			}
		})
	}
}
