package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"regexp"
	"strings"

	"github.com/CTAG07/coil/pkg/markov"
	"github.com/CTAG07/coil/pkg/tokenize"
	"github.com/natefinch/atomic"
)

// ChainConfig holds the settings used when training a chain.
type ChainConfig struct {
	Depth int `json:"depth"`
}

// TokenizerConfig holds the settings used to turn corpus text into tokens.
type TokenizerConfig struct {
	ExcludeSpecialChars bool   `json:"exclude_special_chars"`
	ExcludeRegex        string `json:"exclude_regex"`
	NormalizeUnicode    bool   `json:"normalize_unicode"`
}

// GenerateConfig holds the sampling settings used by predict and generate.
type GenerateConfig struct {
	Length      int     `json:"length"`
	Weighted    bool    `json:"weighted"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	Seed        uint64  `json:"seed"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	LogLevel     string           `json:"log_level"`
	DataDir      string           `json:"data_dir"`
	DatabasePath string           `json:"database_path"`
	Chain        *ChainConfig     `json:"chain_config"`
	Tokenizer    *TokenizerConfig `json:"tokenizer_config"`
	Generate     *GenerateConfig  `json:"generate_config"`
}

// DefaultChainConfig creates a chain configuration with default values.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{Depth: markov.DefaultDepth}
}

// DefaultTokenizerConfig creates a tokenizer configuration with default values.
func DefaultTokenizerConfig() *TokenizerConfig {
	return &TokenizerConfig{
		ExcludeSpecialChars: false,
		ExcludeRegex:        "",
		NormalizeUnicode:    true,
	}
}

// DefaultGenerateConfig creates a generation configuration with default values.
func DefaultGenerateConfig() *GenerateConfig {
	return &GenerateConfig{
		Length:      50,
		Weighted:    true,
		Temperature: 1.0,
		TopK:        0,
		Seed:        0,
	}
}

// DefaultConfig creates a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		DataDir:      "./data",
		DatabasePath: "./data/coil.db",
		Chain:        DefaultChainConfig(),
		Tokenizer:    DefaultTokenizerConfig(),
		Generate:     DefaultGenerateConfig(),
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Defaults are still usable without the file.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Sections missing from an older file keep their defaults.
	if config.Chain == nil {
		config.Chain = DefaultChainConfig()
	}
	if config.Tokenizer == nil {
		config.Tokenizer = DefaultTokenizerConfig()
	}
	if config.Generate == nil {
		config.Generate = DefaultGenerateConfig()
	}

	if config.Tokenizer.ExcludeRegex != "" {
		if _, err = regexp.Compile(config.Tokenizer.ExcludeRegex); err != nil {
			return nil, fmt.Errorf("invalid exclude_regex in config file: %w", err)
		}
	}

	return config, nil
}

// parseLogLevel maps a config or flag value to a slog level. Unknown values
// fall back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewTokenizer builds the tokenizer described by the config.
func (tc *TokenizerConfig) NewTokenizer() *tokenize.Tokenizer {
	opts := []tokenize.Option{
		tokenize.WithExcludeSpecialChars(tc.ExcludeSpecialChars),
		tokenize.WithUnicodeNormalization(tc.NormalizeUnicode),
	}
	if tc.ExcludeRegex != "" {
		opts = append(opts, tokenize.WithExcludeRegex(tc.ExcludeRegex))
	}
	return tokenize.New(opts...)
}

// PredictOptions translates the sampling settings into predictor options. A
// zero seed uses the global random source.
func (gc *GenerateConfig) PredictOptions() []markov.PredictOption {
	opts := []markov.PredictOption{
		markov.WithWeighted(gc.Weighted),
		markov.WithTemperature(gc.Temperature),
		markov.WithTopK(gc.TopK),
	}
	if gc.Seed != 0 {
		opts = append(opts, markov.WithRand(rand.New(rand.NewPCG(gc.Seed, gc.Seed))))
	}
	return opts
}
