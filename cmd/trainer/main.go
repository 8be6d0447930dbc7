package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/trainer/internal/handler"
	appI18n "github.com/pavelanni/trainer/internal/i18n"
	"github.com/pavelanni/trainer/internal/model"
	"github.com/pavelanni/trainer/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trainer",
		Short: "Sequential video and quiz training server",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `trainer --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP training server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "trainer.db", "SQLite database path")
	f.StringSliceP("modules", "m", []string{"modules/onboarding_en.json"}, "Paths to modules files, JSON or YAML (repeatable)")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	addEngineFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import modules and questions from JSON or YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "trainer.db", "SQLite database path")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a learner's progress as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "trainer.db", "SQLite database path")
	f.Int64P("user", "u", 0, "Learner ID (required)")
	f.Float64("pass-threshold", model.DefaultEngineConfig().PassThreshold, "Average score needed to pass")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func addEngineFlags(cmd *cobra.Command) {
	d := model.DefaultEngineConfig()
	f := cmd.Flags()
	f.Int("executor-limit", d.ExecutorLimit, "Maximum concurrent store operations")
	f.Duration("op-timeout", d.OpTimeout, "Deadline for a single store operation (0 = none)")
	f.Duration("retry-base", d.RetryBase, "First retry delay for question loading")
	f.Duration("retry-cap", d.RetryCap, "Maximum retry delay for question loading")
	f.Int("retry-attempts", d.RetryAttempts, "Attempts per question load")
	f.Duration("refresh-cooldown", d.RefreshCooldown, "Minimum time between profile refreshes")
	f.Float64("pass-threshold", d.PassThreshold, "Average score needed to pass")
	f.Duration("session-idle", d.SessionIdle, "Close learner sessions unused for this long (0 = only on DELETE)")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TRAINER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("trainer")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/trainer")
	v.AddConfigPath("/etc/trainer")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func engineConfig(v *viper.Viper) model.EngineConfig {
	return model.EngineConfig{
		ExecutorLimit:   v.GetInt("executor-limit"),
		OpTimeout:       v.GetDuration("op-timeout"),
		RetryBase:       v.GetDuration("retry-base"),
		RetryCap:        v.GetDuration("retry-cap"),
		RetryAttempts:   v.GetInt("retry-attempts"),
		RefreshCooldown: v.GetDuration("refresh-cooldown"),
		PassThreshold:   v.GetFloat64("pass-threshold"),
		SessionIdle:     v.GetDuration("session-idle"),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := importModules(ctx, db, v.GetStringSlice("modules")); err != nil {
		return fmt.Errorf("import modules: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if !appI18n.Supported(lang) {
		slog.Warn("no locale for language, messages fall back to bundle default", "lang", lang)
	}

	cfg := engineConfig(v)
	h, err := handler.New(db, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	defer h.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"executor_limit", cfg.ExecutorLimit,
		"op_timeout", cfg.OpTimeout,
		"retry_attempts", cfg.RetryAttempts,
		"refresh_cooldown", cfg.RefreshCooldown,
		"pass_threshold", cfg.PassThreshold,
		"session_idle", cfg.SessionIdle,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importModules(cmd.Context(), db, args)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportProgress(cmd.Context(), v.GetInt64("user"), v.GetFloat64("pass-threshold"))
	if err != nil {
		return fmt.Errorf("export progress: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// importModules loads each file once. A file whose content changed since it
// was imported is skipped so module IDs already referenced by progress
// records stay valid.
func importModules(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("modules file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("modules file changed since last import, skipping to keep existing progress valid",
				"path", path)
			continue
		}

		modules, err := parseModules(path, data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		questions, err := db.ImportModules(ctx, modules)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported modules", "path", path, "modules", len(modules), "questions", questions)
	}

	return nil
}

// parseModules decodes a modules file. YAML is chosen by extension, anything
// else is read as JSON.
func parseModules(path string, data []byte) ([]model.ModuleImport, error) {
	var modules []model.ModuleImport
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &modules); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &modules); err != nil {
			return nil, err
		}
	}
	return modules, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
