package cmd

import (
	"errors"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "recruitrag"

	defaultPortfolioFile = "portfolio.csv"
	defaultIndexFile     = "vectorstore/index.json"
)

type Config struct {
	PortfolioFile      string        `mapstructure:"portfolio-file"`
	IndexFile          string        `mapstructure:"index-file"`
	TopK               int           `mapstructure:"top-k"`
	RetrievalThreshold float64       `mapstructure:"retrieval-threshold"`
	CoherenceThreshold float64       `mapstructure:"coherence-threshold"`
	MaxRetries         int           `mapstructure:"max-retries"`
	CallTimeout        time.Duration `mapstructure:"call-timeout"`
	Gemini             *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey            string `mapstructure:"api-key"`
	APIKeyFile        string `mapstructure:"api-key-file"`
	Model             string `mapstructure:"model"`
	MaxRetries        int    `mapstructure:"max-retries"`
	RequestsPerMinute int    `mapstructure:"requests-per-minute"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "recruitrag generates personalized cold outreach emails from careers-page URLs using RAG over a portfolio",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envBindings := map[string]string{
		"gemini.api-key":      "API_KEY",
		"gemini.model":        "MODEL_NAME",
		"retrieval-threshold": "RETRIEVAL_THRESHOLD",
		"coherence-threshold": "COHERENCE_THRESHOLD",
		"max-retries":         "MAX_RETRIES",
		"sender.name":         "SENDER_NAME",
		"sender.company":      "SENDER_COMPANY",
		"sender.description":  "SENDER_DESCRIPTION",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is "+app+".yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	viper.SetDefault("portfolio-file", defaultPortfolioFile)
	viper.SetDefault("index-file", defaultIndexFile)
	viper.SetDefault("top-k", 2)
	viper.SetDefault("retrieval-threshold", 0.8)
	viper.SetDefault("coherence-threshold", 0.8)
	viper.SetDefault("max-retries", 2)
	viper.SetDefault("call-timeout", time.Minute)
	viper.SetDefault("gemini.max-retries", 3)
	viper.SetDefault("gemini.requests-per-minute", 15)
}

func initConfig() {
	// Mirrors the dotenv convention of the reference deployment: a .env in
	// the working directory feeds API_KEY and the persona variables.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// The config file is optional: env variables and defaults can carry a
	// whole run. A present-but-broken file is still fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config == nil {
		config = &Config{}
	}
	if config.Gemini == nil {
		config.Gemini = &GeminiConfig{}
	}

	return config, nil
}
