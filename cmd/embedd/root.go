package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"embedd/internal/backend"
	"embedd/internal/config"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "embedd",
		Short:         "Batched embedding, rerank and classification server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("EMBEDD_CONFIG"), "Config file (.yaml, .json, .toml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before reading EMBEDD_* variables")

	root.AddCommand(newServeCmd(opts), newCheckCmd(opts), newConfigCmd(opts), &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

// bindFlags registers the config overrides shared by serve and check.
// Values land in v; only flags the user set are applied by overlayFlags.
func bindFlags(fs *pflag.FlagSet, v *config.Config) {
	fs.StringVar(&v.Addr, "addr", "", "HTTP listen address, e.g. :8080")
	fs.StringVar(&v.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	fs.BoolVar(&v.LogJSON, "log-json", false, "Emit JSON logs instead of console output")
	fs.StringVar(&v.ModelDir, "model-dir", "", "Model directory (weights, tokenizer.json, config.json)")
	fs.StringVar(&v.ModelPath, "model-path", "", "GGUF weights path; overrides the model directory's")
	fs.StringVar(&v.TokenizerPath, "tokenizer-path", "", "tokenizer.json path; overrides the model directory's")
	fs.StringVar(&v.Tokenizer, "tokenizer", "", "Tokenizer: simple|hf")
	fs.StringVar(&v.Backend, "backend", "", "Backend: fallback|llama|subprocess")
	fs.StringVar(&v.Pooling, "pooling", "", "Pooling: cls|mean|last")
	fs.IntVar(&v.MaxBatchRequests, "max-batch-requests", 0, "Maximum entries per batch")
	fs.IntVar(&v.MaxBatchTokens, "max-batch-tokens", 0, "Maximum padded tokens per batch")
	fs.IntVar(&v.MaxQueueSize, "max-queue-size", 0, "Maximum pending entries before 429")
	fs.IntVar(&v.MaxInputLength, "max-input-length", 0, "Maximum tokens per input")
	fs.IntVar(&v.MaxClientBatchSize, "max-client-batch-size", 0, "Maximum inputs per request")
	fs.BoolVar(&v.DefaultTruncate, "default-truncate", false, "Truncate over-long inputs unless the request says otherwise")
	fs.StringVar(&v.OversizePolicy, "oversize-policy", "", "Single entry over max-batch-tokens: schedule|reject")
	fs.StringVar(&v.SearchDir, "search-dir", "", "Directory of the search store; empty disables search")
	fs.StringVar(&v.LlamaBin, "llama-bin", "", "llama-server binary for the subprocess backend")
}

var flagSetters = map[string]func(dst *config.Config, src config.Config){
	"addr":                  func(d *config.Config, s config.Config) { d.Addr = s.Addr },
	"log-level":             func(d *config.Config, s config.Config) { d.LogLevel = s.LogLevel },
	"log-json":              func(d *config.Config, s config.Config) { d.LogJSON = s.LogJSON },
	"model-dir":             func(d *config.Config, s config.Config) { d.ModelDir = s.ModelDir },
	"model-path":            func(d *config.Config, s config.Config) { d.ModelPath = s.ModelPath },
	"tokenizer-path":        func(d *config.Config, s config.Config) { d.TokenizerPath = s.TokenizerPath },
	"tokenizer":             func(d *config.Config, s config.Config) { d.Tokenizer = s.Tokenizer },
	"backend":               func(d *config.Config, s config.Config) { d.Backend = s.Backend },
	"pooling":               func(d *config.Config, s config.Config) { d.Pooling = s.Pooling },
	"max-batch-requests":    func(d *config.Config, s config.Config) { d.MaxBatchRequests = s.MaxBatchRequests },
	"max-batch-tokens":      func(d *config.Config, s config.Config) { d.MaxBatchTokens = s.MaxBatchTokens },
	"max-queue-size":        func(d *config.Config, s config.Config) { d.MaxQueueSize = s.MaxQueueSize },
	"max-input-length":      func(d *config.Config, s config.Config) { d.MaxInputLength = s.MaxInputLength },
	"max-client-batch-size": func(d *config.Config, s config.Config) { d.MaxClientBatchSize = s.MaxClientBatchSize },
	"default-truncate":      func(d *config.Config, s config.Config) { d.DefaultTruncate = s.DefaultTruncate },
	"oversize-policy":       func(d *config.Config, s config.Config) { d.OversizePolicy = s.OversizePolicy },
	"search-dir":            func(d *config.Config, s config.Config) { d.SearchDir = s.SearchDir },
	"llama-bin":             func(d *config.Config, s config.Config) { d.LlamaBin = s.LlamaBin },
}

// overlayFlags copies explicitly set flags from src onto cfg.
func overlayFlags(fs *pflag.FlagSet, src config.Config, cfg *config.Config) {
	fs.Visit(func(f *pflag.Flag) {
		if set, ok := flagSetters[f.Name]; ok {
			set(cfg, src)
		}
	})
}

// resolveConfig layers defaults < file < environment < flags and validates
// the result.
func resolveConfig(opts *rootOptions, fs *pflag.FlagSet, flagVals config.Config) (config.Config, error) {
	if err := loadDotEnv(opts.envFile); err != nil {
		return config.Config{}, fmt.Errorf("env file: %w", err)
	}
	var cfg config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config %s: %w", opts.configPath, err)
		}
		cfg = loaded
	}
	applyEnv(&cfg)
	overlayFlags(fs, flagVals, &cfg)
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from cfg.
func newLogger(cfg config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var l zerolog.Logger
	if cfg.LogJSON {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return l.Level(lvl).With().Timestamp().Str("service", "embedd").Logger()
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var flagVals config.Config
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Example: "  embedd serve --model-dir ~/models/bge-small-en --backend subprocess\n" +
			"  embedd serve -c embedd.yaml --addr :9090",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, cmd.Flags(), flagVals)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, newLogger(cfg))
		},
	}
	bindFlags(cmd.Flags(), &flagVals)
	return cmd
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var flagVals config.Config
	var probes []string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load the model, run one probe through the queue and print a report",
		Example: "  embedd check --backend fallback\n" +
			"  embedd check --model-dir ~/models/bge-reranker --probe rerank",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseProbes(probes)
			if err != nil {
				return err
			}
			cfg, err := resolveConfig(opts, cmd.Flags(), flagVals)
			if err != nil {
				return err
			}
			return check(cmd.Context(), cfg, newLogger(cfg), cmd.OutOrStdout(), kinds)
		},
	}
	bindFlags(cmd.Flags(), &flagVals)
	cmd.Flags().StringSliceVar(&probes, "probe", nil, "Operations to probe: embed,rerank,predict (default: first supported)")
	return cmd
}

func parseProbes(names []string) ([]backend.Kind, error) {
	kinds := make([]backend.Kind, 0, len(names))
	for _, n := range names {
		k, err := backend.ParseKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var flagVals config.Config
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, cmd.Flags(), flagVals)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
	bindFlags(cmd.Flags(), &flagVals)
	return cmd
}
