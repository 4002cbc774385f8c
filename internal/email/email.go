package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/RecruitRAG/internal/ai"
	"github.com/pratikjadhav2726/RecruitRAG/internal/extract"
	"github.com/pratikjadhav2726/RecruitRAG/internal/logutil"
)

//go:embed prompt.md
var promptTemplate string

const defaultMaxLogLength = 200

// SenderPersona controls the email's framing and signature block.
type SenderPersona struct {
	Name        string `mapstructure:"name"`
	Company     string `mapstructure:"company"`
	Description string `mapstructure:"description"`
}

// Validate checks the fields the prompt cannot do without.
func (p SenderPersona) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("sender name is required")
	}
	if strings.TrimSpace(p.Company) == "" {
		return fmt.Errorf("sender company is required")
	}
	return nil
}

// Error reports that the completion backend produced no usable draft. The
// generator never retries on its own; that call belongs to the pipeline.
type Error struct {
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("email generation: %v", e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Generator produces outreach emails for a posting and its matched links.
type Generator struct {
	completer ai.Completer
	persona   SenderPersona
	logger    *zap.Logger
}

// New creates a Generator writing as the given persona.
func New(completer ai.Completer, persona SenderPersona, logger *zap.Logger) *Generator {
	return &Generator{
		completer: completer,
		persona:   persona,
		logger:    logger,
	}
}

// Generate writes a cold email for the posting, weaving in the portfolio
// links. nudge is an optional extra instruction used by the pipeline when it
// regenerates after a low coherence score; pass "" for a first draft.
func (g *Generator) Generate(ctx context.Context, posting extract.JobPosting, links []string, nudge string) (string, error) {
	jobJSON, err := json.Marshal(posting)
	if err != nil {
		return "", &Error{Cause: fmt.Errorf("marshal posting: %w", err)}
	}

	linkList := "none available; rely on the company description instead"
	if len(links) > 0 {
		linkList = strings.Join(links, "\n")
	}

	prompt := strings.NewReplacer(
		"{{JOB_JSON}}", string(jobJSON),
		"{{SENDER_NAME}}", g.persona.Name,
		"{{SENDER_COMPANY}}", g.persona.Company,
		"{{SENDER_DESCRIPTION}}", g.persona.Description,
		"{{LINK_LIST}}", linkList,
		"{{NUDGE}}", strings.TrimSpace(nudge),
	).Replace(promptTemplate)

	raw, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return "", &Error{Cause: err}
	}

	draft := strings.TrimSpace(raw)
	if draft == "" {
		return "", &Error{Cause: ai.ErrEmptyResponse}
	}

	if g.logger != nil {
		g.logger.Debug("generated draft",
			zap.String("role", posting.Role),
			zap.Int("links", len(links)),
			zap.String("draft_preview", logutil.TruncateForLog(draft, defaultMaxLogLength)),
		)
	}

	return draft, nil
}
