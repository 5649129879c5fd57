package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/CTAG07/coil/pkg/markov"
	"github.com/CTAG07/coil/pkg/store"
	"github.com/spf13/cobra"
)

// app carries the state shared by every command once the root command has
// loaded the configuration.
type app struct {
	configPath string
	logLevel   string
	dbPath     string
	config     *Config
	logger     *slog.Logger
}

func (a *app) setup(cmd *cobra.Command) error {
	config, err := LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.logLevel != "" {
		config.LogLevel = a.logLevel
	}
	if a.dbPath != "" {
		config.DatabasePath = a.dbPath
	}
	a.config = config
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLogLevel(config.LogLevel)}))
	return nil
}

func (a *app) openStore() (*store.Store, func(), error) {
	return openStore(a.config.DatabasePath, a.logger)
}

// loadChain resolves a model reference: a stored model name, or a model file
// path when fromFile is set.
func (a *app) loadChain(cmd *cobra.Command, ref string, fromFile bool) (*markov.Chain, error) {
	if fromFile {
		_, c, err := readModelFile(ref)
		return c, err
	}
	s, closeStore, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer closeStore()

	c, err := s.Load(cmd.Context(), ref)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("model %q not found", ref)
	}
	return c, err
}

// contextTokens normalizes context words given on the command line the same
// way corpus text is normalized.
func (a *app) contextTokens(args []string) []string {
	return a.config.Tokenizer.NewTokenizer().Tokenize(strings.Join(args, " "))
}

// NewCLI builds the command tree.
func NewCLI() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "coil",
		Short: "Train n-gram markov chains and sample text from them",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			return a.setup(cmd)
		},
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
	}
	rootCmd.SilenceErrors = true

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "./coil.json", "Path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "Path to the model database")

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		newTrainCmd(a),
		newPredictCmd(a),
		newGenerateCmd(a),
		newInspectCmd(a),
		newListCmd(a),
		newRemoveCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newBenchCmd(a),
	)

	return rootCmd
}

func newTrainCmd(a *app) *cobra.Command {
	var depth int
	var out string
	var noSave bool

	cmd := &cobra.Command{
		Use:   "train MODEL CORPUS...",
		Short: "Train a model from corpus files",
		Long:  "Train a model from one or more corpus files (\"-\" reads standard input). The model replaces any stored model with the same name.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, paths := args[0], args[1:]
			ctx := cmd.Context()

			cfg := markov.DefaultConfig()
			cfg.Depth = a.config.Chain.Depth
			if cmd.Flags().Changed("depth") {
				cfg.Depth = depth
			}
			cfg.Logger = a.logger

			tokens, err := readCorpus(ctx, a.config.Tokenizer.NewTokenizer(), paths, cmd.InOrStdin())
			if err != nil {
				return err
			}
			c, err := markov.BuildWithConfig(tokens, cfg)
			if err != nil {
				return err
			}

			if out != "" {
				if err = writeModelFile(out, c); err != nil {
					return err
				}
				a.logger.Info("Model written", "path", out)
			}

			if !noSave {
				s, closeStore, err := a.openStore()
				if err != nil {
					return err
				}
				defer closeStore()
				if _, err = s.Save(ctx, name, c); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "trained %q: %d tokens, %d distinct, depth %d\n",
				name, len(tokens), c.Vocabulary().Len(), c.Depth())
			return nil
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", markov.DefaultDepth, "Number of preceding tokens used for prediction")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Also write the chain to a model file (.json, .cbor, optionally .zst)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not store the model in the database")
	return cmd
}

// samplingFlags registers the flags that override the generate config.
func samplingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("unweighted", false, "Pick uniformly among the candidates")
	cmd.Flags().Float64("temperature", 1.0, "Sampling temperature; 0 always picks the most likely token")
	cmd.Flags().Int("top-k", 0, "Only sample from the k most likely tokens")
	cmd.Flags().Uint64("seed", 0, "Seed for reproducible output; 0 is random")
	cmd.Flags().BoolP("file", "f", false, "Treat MODEL as a model file path")
}

func (a *app) generateConfig(cmd *cobra.Command) (GenerateConfig, error) {
	gc := *a.config.Generate
	flags := cmd.Flags()
	var err error
	if flags.Changed("unweighted") {
		var unweighted bool
		unweighted, err = flags.GetBool("unweighted")
		gc.Weighted = !unweighted
	}
	if err == nil && flags.Changed("temperature") {
		gc.Temperature, err = flags.GetFloat64("temperature")
	}
	if err == nil && flags.Changed("top-k") {
		gc.TopK, err = flags.GetInt("top-k")
	}
	if err == nil && flags.Changed("seed") {
		gc.Seed, err = flags.GetUint64("seed")
	}
	if err == nil && flags.Changed("length") {
		gc.Length, err = flags.GetInt("length")
	}
	return gc, err
}

func newPredictCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict MODEL [CONTEXT...]",
		Short: "Show the next-token distribution for a context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromFile, _ := cmd.Flags().GetBool("file")
			sample, _ := cmd.Flags().GetBool("sample")

			c, err := a.loadChain(cmd, args[0], fromFile)
			if err != nil {
				return err
			}
			context := a.contextTokens(args[1:])

			if !sample {
				printPredictions(cmd.OutOrStdout(), c.PredictionsFor(context))
				return nil
			}

			gc, err := a.generateConfig(cmd)
			if err != nil {
				return err
			}
			token, ok := c.Predict(context, gc.PredictOptions()...)
			if !ok {
				return errors.New("no prediction for this context")
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	samplingFlags(cmd)
	cmd.Flags().Bool("sample", false, "Draw a single token instead of printing the distribution")
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate MODEL [CONTEXT...]",
		Short: "Generate a token sequence continuing a context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromFile, _ := cmd.Flags().GetBool("file")
			stream, _ := cmd.Flags().GetBool("stream")

			gc, err := a.generateConfig(cmd)
			if err != nil {
				return err
			}
			c, err := a.loadChain(cmd, args[0], fromFile)
			if err != nil {
				return err
			}
			context := a.contextTokens(args[1:])
			w := cmd.OutOrStdout()

			if !stream {
				fmt.Fprintln(w, strings.Join(c.PredictSequence(context, gc.Length, gc.PredictOptions()...), " "))
				return nil
			}
			return streamSequence(w, c, context, gc)
		},
	}
	samplingFlags(cmd)
	cmd.Flags().IntP("length", "n", 50, "Number of tokens to generate")
	cmd.Flags().Bool("stream", false, "Print tokens as they are generated")
	return cmd
}

func streamSequence(w io.Writer, c *markov.Chain, context []string, gc GenerateConfig) error {
	if gc.Length <= 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	var n int
	for token := range c.Sequence(context, gc.PredictOptions()...) {
		sep := " "
		if n == 0 {
			sep = ""
		}
		if _, err := fmt.Fprint(w, sep+token); err != nil {
			return err
		}
		if n++; n == gc.Length {
			break
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func newInspectCmd(a *app) *cobra.Command {
	var fromFile, tree bool
	var maxLevel int

	cmd := &cobra.Command{
		Use:   "inspect MODEL",
		Short: "Show statistics about a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadChain(cmd, args[0], fromFile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printStats(w, args[0], c.Stats())
			if tree {
				fmt.Fprintln(w)
				return printTree(w, c, maxLevel)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&fromFile, "file", "f", false, "Treat MODEL as a model file path")
	cmd.Flags().BoolVar(&tree, "tree", false, "Print the trie")
	cmd.Flags().IntVar(&maxLevel, "max-level", 2, "Deepest trie level printed with --tree; -1 prints everything")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list [PREFIX]",
		Aliases: []string{"ls"},
		Short:   "List stored models",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			stats, err := s.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				var models []store.ModelInfo
				for _, m := range stats.Models {
					if strings.HasPrefix(strings.ToLower(m.Name), strings.ToLower(args[0])) {
						models = append(models, m)
					}
				}
				printModels(cmd.OutOrStdout(), models)
				return nil
			}
			printDBStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove MODEL...",
		Aliases: []string{"rm"},
		Short:   "Remove stored models",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			for _, name := range args {
				info, err := s.GetModelInfo(ctx, name)
				if store.IsNotFound(err) {
					return fmt.Errorf("model %q not found", name)
				} else if err != nil {
					return err
				}
				if err = s.RemoveModel(ctx, info); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", name)
			}
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export MODEL [FILE]",
		Short: "Export a stored model",
		Long: "Export a stored model. \"-\" writes the JSON envelope to standard output; .json files hold the envelope, " +
			".cbor files the bare chain, and a .zst suffix compresses either. Without FILE the model is written to DATA_DIR/MODEL.json.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			path := filepath.Join(a.config.DataDir, name+".json")
			if len(args) == 2 {
				path = args[1]
			}

			s, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			info, err := s.GetModelInfo(ctx, name)
			if store.IsNotFound(err) {
				return fmt.Errorf("model %q not found", name)
			} else if err != nil {
				return err
			}

			if path == stdinPath {
				return s.ExportModel(ctx, info, cmd.OutOrStdout())
			}

			mf, err := parseModelPath(path)
			if err != nil {
				return err
			}
			if mf.Format == markov.FormatJSON {
				err = mf.write(func(w io.Writer) error {
					return s.ExportModel(ctx, info, w)
				})
			} else {
				var c *markov.Chain
				if c, err = s.Load(ctx, name); err == nil {
					err = writeModelFile(path, c)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %q to %s\n", name, path)
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a model file into the database",
		Long: "Import a model file. \"-\" reads a JSON envelope from standard input. The model is stored under --name, " +
			"the envelope's name, or the file name, replacing any model with that name.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			s, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			var info store.ModelInfo
			if path == stdinPath {
				if name != "" {
					return errors.New("--name cannot be used when importing from standard input")
				}
				info, err = s.ImportModel(ctx, cmd.InOrStdin())
			} else {
				info, err = importFile(cmd, s, path, name)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %q (depth %d, %d distinct tokens)\n", info.Name, info.Depth, info.VocabSize)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name to store the model under")
	return cmd
}

func importFile(cmd *cobra.Command, s *store.Store, path, name string) (store.ModelInfo, error) {
	mf, err := parseModelPath(path)
	if err != nil {
		return store.ModelInfo{}, err
	}
	envelopeName, c, err := readModelFile(path)
	if err != nil {
		return store.ModelInfo{}, err
	}
	switch {
	case name != "":
	case envelopeName != "":
		name = envelopeName
	default:
		name = mf.modelName()
	}
	return s.Save(cmd.Context(), name, c)
}

func newBenchCmd(a *app) *cobra.Command {
	var depth int
	var sizes []int
	var seed uint64

	cmd := &cobra.Command{
		Use:   "bench [CORPUS...]",
		Short: "Measure build time and encoded size for growing corpora",
		Long:  "Build chains from growing prefixes of the corpus and report build time and encoded size. Without CORPUS a synthetic Zipf-distributed corpus is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("depth") {
				depth = a.config.Chain.Depth
			}

			var corpus []string
			if len(args) > 0 {
				var err error
				if corpus, err = readCorpus(ctx, a.config.Tokenizer.NewTokenizer(), args, cmd.InOrStdin()); err != nil {
					return err
				}
				if len(corpus) == 0 {
					return errors.New("corpus is empty")
				}
			} else {
				largest := 0
				for _, n := range sizes {
					largest = max(largest, n)
				}
				corpus = syntheticCorpus(largest, 5000, seed)
			}

			results, err := runBench(ctx, corpus, sizes, depth, a.logger)
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), depth, results)
			return nil
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", markov.DefaultDepth, "Chain depth")
	cmd.Flags().IntSliceVar(&sizes, "sizes", defaultBenchSizes, "Corpus sizes in tokens")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Seed for the synthetic corpus")
	return cmd
}
