package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/RecruitRAG/internal/ai/gemini"
	"github.com/pratikjadhav2726/RecruitRAG/internal/email"
	"github.com/pratikjadhav2726/RecruitRAG/internal/extract"
	"github.com/pratikjadhav2726/RecruitRAG/internal/logger"
	"github.com/pratikjadhav2726/RecruitRAG/internal/pipeline"
	"github.com/pratikjadhav2726/RecruitRAG/internal/portfolio"
	"github.com/pratikjadhav2726/RecruitRAG/internal/scrape"
	"github.com/pratikjadhav2726/RecruitRAG/internal/score"
	"github.com/pratikjadhav2726/RecruitRAG/internal/secrets"
)

const (
	PromptDone         = "Done"
	PromptShowPostings = "Show extracted job details"
	PromptDumpToFile   = "Dump emails to file"

	exitSucceeded = 0
	exitExhausted = 1
	exitDegraded  = 3
)

var errExit = errors.New("exit requested")

var resultPrompt = promptui.Select{
	Label: "What next?",
	Items: []string{PromptDone, PromptShowPostings, PromptDumpToFile},
}

var runCmd = &cobra.Command{
	Use:   "run <careers-page-url>",
	Short: "Generate cold outreach emails for the postings found at the given URL",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if code := run(cmd, args[0]); code != exitSucceeded {
			os.Exit(code)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "print results and exit without the interactive menu")
	runCmd.Flags().Bool("rebuild-index", false, "rebuild the portfolio index even if it looks fresh")
}

// run is the main command for the cli.
func run(cmd *cobra.Command, url string) int {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating a logger: %s\n", err)
		return exitExhausted
	}

	config, err := getConfig()
	if err != nil {
		logger.Error("getting a config", zap.Error(err))
		return exitExhausted
	}

	logger.Info("starting "+app, zap.String("version", version), zap.String("url", url))

	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	persona, err := resolvePersona()
	if err != nil {
		logger.Error("resolving sender persona", zap.Error(err),
			zap.String("hint", "set sender.name and sender.company in the config or SENDER_NAME/SENDER_COMPANY in the environment"),
		)
		return exitExhausted
	}

	client, err := newGeminiClient(ctx, config, logger)
	if err != nil {
		logger.Error("building gemini client", zap.Error(err))
		return exitExhausted
	}

	rebuild, _ := cmd.Flags().GetBool("rebuild-index")

	store, err := prepareStore(ctx, config, client, logger, rebuild)
	if err != nil {
		logger.Error("preparing portfolio index", zap.Error(err))
		return exitExhausted
	}

	logger.Info("fetching careers page", zap.String("url", url))

	rawText, err := scrape.NewFetcher().Fetch(ctx, url)
	if err != nil {
		logger.Error("scraping careers page", zap.Error(err))
		return exitExhausted
	}

	controller := pipeline.New(pipeline.Config{
		RetrievalThreshold: config.RetrievalThreshold,
		CoherenceThreshold: config.CoherenceThreshold,
		MaxRetries:         config.MaxRetries,
		TopK:               config.TopK,
		CallTimeout:        config.CallTimeout,
	}, pipeline.Deps{
		Extractor: extract.New(client, config.MaxRetries, logger),
		Store:     store,
		Scorer:    score.New(client, logger),
		Generator: email.New(client, persona, logger),
		Logger:    logger,
	})

	states := controller.Run(ctx, rawText)
	printResults(states)

	if auto, _ := cmd.Flags().GetBool("auto-approve"); !auto {
		for {
			_, action, err := resultPrompt.Run()
			if err != nil {
				logger.Error("prompt failed", zap.Error(err))
				break
			}

			if err := handleAction(action, states, logger); err != nil {
				if errors.Is(err, errExit) {
					break
				}
				logger.Error("action failed", zap.Error(err))
			}
		}
	}

	switch outcome := pipeline.RunOutcome(states); outcome {
	case pipeline.OutcomeSucceeded:
		logger.Info("run finished", zap.String("outcome", string(outcome)))
		return exitSucceeded
	case pipeline.OutcomeDegraded:
		logger.Warn("run finished with best-effort results", zap.String("outcome", string(outcome)))
		return exitDegraded
	default:
		logger.Error("no posting could be processed", zap.String("outcome", string(outcome)))
		return exitExhausted
	}
}

func handleAction(action string, states []*pipeline.State, logger *zap.Logger) error {
	switch action {
	case PromptDone:
		return errExit
	case PromptShowPostings:
		for _, state := range states {
			pretty, _ := json.MarshalIndent(state.Posting, "", "  ")
			fmt.Println(string(pretty))
		}
		return nil
	case PromptDumpToFile:
		filename, err := dumpEmails(states)
		if err != nil {
			return fmt.Errorf("dump emails to file: %w", err)
		}
		logger.Info("dumped emails to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func printResults(states []*pipeline.State) {
	for i, state := range states {
		fmt.Printf("--- posting %d: %s ---\n", i+1, describePosting(state))

		switch {
		case state.Status == pipeline.StatusSucceeded && state.Degraded:
			fmt.Println("[best effort: quality gates did not clear within the retry budget]")
			fmt.Println(state.FinalEmail)
		case state.Status == pipeline.StatusSucceeded:
			fmt.Println(state.FinalEmail)
		default:
			fmt.Printf("could not process: %v\n", state.Err)
		}
		fmt.Println()
	}
}

func describePosting(state *pipeline.State) string {
	if state.Posting.Role == "" {
		return "(no posting extracted)"
	}
	return state.Posting.Role
}

func dumpEmails(states []*pipeline.State) (string, error) {
	file, err := os.CreateTemp("", "emails_*.md")
	if err != nil {
		return "", err
	}
	defer file.Close()

	for i, state := range states {
		if state.Status != pipeline.StatusSucceeded {
			continue
		}
		if _, err := fmt.Fprintf(file, "## %d. %s\n\n%s\n\n", i+1, describePosting(state), state.FinalEmail); err != nil {
			return "", err
		}
	}

	return file.Name(), nil
}

// resolvePersona decodes the sender section of the merged configuration
// (file, env bindings and defaults) into the persona struct.
func resolvePersona() (email.SenderPersona, error) {
	var persona email.SenderPersona
	if err := mapstructure.Decode(viper.GetStringMap("sender"), &persona); err != nil {
		return persona, fmt.Errorf("decode sender config: %w", err)
	}

	if err := persona.Validate(); err != nil {
		return persona, err
	}

	return persona, nil
}

func newGeminiClient(ctx context.Context, config *Config, log *zap.Logger) (*gemini.Client, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: config.Gemini.APIKey,
		File:  config.Gemini.APIKeyFile,
		Env:   "API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set API_KEY, gemini.api-key or gemini.api-key-file)", err)
	}

	client, err := gemini.New(ctx, apiKey, config.Gemini.Model, config.Gemini.MaxRetries,
		logger.WithCommonFields(log, "gemini", config.Gemini.Model))
	if err != nil {
		return nil, err
	}

	log.Debug("gemini client ready", zap.String("model", client.Model()))

	return client.WithRateLimit(config.Gemini.RequestsPerMinute), nil
}

// prepareStore loads the on-disk index and rebuilds it when the portfolio
// source changed or a rebuild was requested.
func prepareStore(ctx context.Context, config *Config, client *gemini.Client, logger *zap.Logger, rebuild bool) (*portfolio.Store, error) {
	store := portfolio.NewStore(config.IndexFile, client, logger)
	if err := store.Load(); err != nil {
		return nil, err
	}

	hash, err := portfolio.SourceHash(config.PortfolioFile)
	if err != nil {
		return nil, err
	}

	if !rebuild && store.Fresh(hash) {
		logger.Info("portfolio index is fresh", zap.Int("entries", store.Len()))
		return store, nil
	}

	entries, err := portfolio.LoadCSV(config.PortfolioFile)
	if err != nil {
		return nil, err
	}

	logger.Info("rebuilding portfolio index", zap.Int("entries", len(entries)))

	if err := store.Index(ctx, entries, hash); err != nil {
		return nil, err
	}

	return store, nil
}
