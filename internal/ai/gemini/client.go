package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/pratikjadhav2726/RecruitRAG/internal/ai"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultEmbedModel = "gemini-embedding-001"

	// Generous enough for the free tier; overridable via WithRateLimit.
	defaultRequestsPerMinute = 15

	initialBackoff = 2 * time.Second
)

// Overridable in tests.
var sleep = time.Sleep

// modelAPI is the slice of the genai surface the client depends on.
type modelAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type genaiModels struct {
	client *genai.Client
}

func (g *genaiModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.client.Models.GenerateContent(ctx, model, contents, config)
}

func (g *genaiModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	return g.client.Models.EmbedContent(ctx, model, contents, config)
}

// Client provides prompt completion and text embedding on top of the Gemini
// API. It retries transient API errors internally; anything that survives the
// retries comes back as an *ai.ServiceError.
type Client struct {
	models     modelAPI
	model      string
	embedModel string
	maxRetries int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New creates a Client configured for the Gemini API backend.
func New(ctx context.Context, apiKey, model string, maxRetries int, logger *zap.Logger) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	if maxRetries < 1 {
		maxRetries = 1
	}

	return &Client{
		models:     &genaiModels{client: client},
		model:      model,
		embedModel: defaultEmbedModel,
		maxRetries: maxRetries,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/defaultRequestsPerMinute), 1),
		logger:     logger,
	}, nil
}

// WithRateLimit replaces the per-minute request budget.
func (c *Client) WithRateLimit(requestsPerMinute int) *Client {
	if requestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return c
}

// Model returns the configured generation model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Complete sends the prompt to Gemini and returns the concatenated text of the
// first candidate's parts.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ai.NewServiceError("generate content", errors.New("prompt must not be empty"))
	}

	var resp *genai.GenerateContentResponse
	err := c.withRetries(ctx, "generate content", func() error {
		var callErr error
		resp, callErr = c.models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
		return callErr
	})
	if err != nil {
		return "", ai.NewServiceError("generate content", err)
	}

	output := collectText(resp)
	if output == "" {
		return "", ai.NewServiceError("generate content", ai.ErrEmptyResponse)
	}

	return output, nil
}

// Embed returns the embedding vector for the provided text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ai.NewServiceError("embed content", errors.New("text must not be empty"))
	}

	var resp *genai.EmbedContentResponse
	err := c.withRetries(ctx, "embed content", func() error {
		var callErr error
		resp, callErr = c.models.EmbedContent(ctx, c.embedModel, genai.Text(text), nil)
		return callErr
	})
	if err != nil {
		return nil, ai.NewServiceError("embed content", err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, ai.NewServiceError("embed content", ai.ErrEmptyResponse)
	}

	return resp.Embeddings[0].Values, nil
}

func (c *Client) withRetries(ctx context.Context, op string, call func() error) error {
	backoff := initialBackoff

	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if waitErr := c.limiter.Wait(ctx); waitErr != nil {
			return waitErr
		}

		if err = call(); err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == c.maxRetries {
			break
		}

		if c.logger != nil {
			c.logger.Debug("retrying transient gemini error",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		}

		sleep(backoff)
		backoff *= 2
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, c.maxRetries, err)
}

// isTransient reports whether the API error is worth a retry: rate limiting
// and server-side errors are, everything else (auth, bad request) is not.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}
