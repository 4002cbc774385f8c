package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/RecruitRAG/internal/logger"
	"github.com/pratikjadhav2726/RecruitRAG/internal/portfolio"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the portfolio index from the portfolio csv",
	Run: func(cmd *cobra.Command, _ []string) {
		if code := index(cmd); code != exitSucceeded {
			os.Exit(code)
		}
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func index(_ *cobra.Command) int {
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

	client, err := newGeminiClient(ctx, config, logger)
	if err != nil {
		logger.Error("building gemini client", zap.Error(err))
		return exitExhausted
	}

	entries, err := portfolio.LoadCSV(config.PortfolioFile)
	if err != nil {
		logger.Error("loading portfolio", zap.Error(err), zap.String("file", config.PortfolioFile))
		return exitExhausted
	}

	hash, err := portfolio.SourceHash(config.PortfolioFile)
	if err != nil {
		logger.Error("hashing portfolio", zap.Error(err))
		return exitExhausted
	}

	store := portfolio.NewStore(config.IndexFile, client, logger)

	logger.Info("indexing portfolio", zap.Int("entries", len(entries)), zap.String("index", config.IndexFile))

	if err := store.Index(ctx, entries, hash); err != nil {
		logger.Error("indexing portfolio", zap.Error(err))
		return exitExhausted
	}

	logger.Info("portfolio index written", zap.Int("entries", store.Len()))

	return exitSucceeded
}
