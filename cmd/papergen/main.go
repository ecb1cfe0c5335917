package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/papergen/internal/compose"
	"github.com/pavelanni/papergen/internal/handler"
	appI18n "github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/llm"
	"github.com/pavelanni/papergen/internal/lock"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/paper"
	"github.com/pavelanni/papergen/internal/render"
	"github.com/pavelanni/papergen/internal/store"
	"github.com/pavelanni/papergen/internal/structure"
	"github.com/pavelanni/papergen/internal/textract"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "papergen",
		Short: "Exam paper generator for academic examiners",
	}

	serve := serveCmd()
	root.AddCommand(serve, extractCmd(), generateCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `papergen --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "papergen.db", "SQLite database path")
	f.String("redis-url", "", "Redis URL for per-paper locks shared by several replicas (empty = in-process locks)")
	f.StringP("lang", "l", "en", "Default language of rendered papers (en, ru)")
	addGenerationFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [files...]",
		Short: "Extract chapters or weighted topics from documents and print them as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExtract,
	}
	f := cmd.Flags()
	f.StringP("mode", "m", string(structure.ModeChapters), "What to extract (chapters, topics)")
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [files...]",
		Short: "Generate a paper from a config file and source documents",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	f.StringP("config", "c", "", "Generation config JSON file (required)")
	f.StringP("title", "t", "", "Paper title")
	f.StringP("output", "o", "-", "Paper JSON output path (- for stdout)")
	f.String("html", "", "Write the question paper HTML to this path")
	f.String("answer-key", "", "Write the answer key HTML to this path")
	f.StringP("lang", "l", "en", "Language of rendered papers (en, ru)")
	addGenerationFlags(f)
	addLLMFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func addGenerationFlags(f *pflag.FlagSet) {
	f.Duration("generation-timeout", paper.DefaultGenerationTimeout, "Upper bound for one generation run")
	f.Int("min-text-chars", paper.DefaultMinTextChars, "Least source text, in characters, a paper is generated from")
	f.Bool("strict-marks", false, "Reject configs whose section marks do not add up to the total")
	f.Int("max-excerpt", compose.DefaultMaxExcerptRunes, "Characters of source text sent to the model")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", 90*time.Second, "Timeout for one LLM call")
	f.Float32("llm-temperature", 0.3, "Sampling temperature")
	f.Bool("offline", false, "Do not call the LLM; use the deterministic fallbacks")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(v *viper.Viper) {
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

	v.SetEnvPrefix("PAPERGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("papergen")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/papergen")
	v.AddConfigPath("/etc/papergen")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// generator is what both engines need from the model client.
type generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

func newGenerator(ctx context.Context, v *viper.Viper) (generator, error) {
	if v.GetBool("offline") {
		slog.Info("offline mode, LLM disabled")
		return llm.Unavailable{}, nil
	}
	client, err := llm.New(llm.Options{
		BaseURL:     v.GetString("llm-url"),
		APIKey:      v.GetString("llm-key"),
		Model:       v.GetString("llm-model"),
		Timeout:     v.GetDuration("llm-timeout"),
		Temperature: float32(v.GetFloat64("llm-temperature")),
	})
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		slog.Warn("LLM health check failed, generation will use fallbacks until it recovers",
			"url", v.GetString("llm-url"), "error", err)
	} else {
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}
	return client, nil
}

func newService(db *store.Store, gen generator, locker lock.Locker, v *viper.Viper) (*paper.Service, error) {
	se, err := structure.New(gen)
	if err != nil {
		return nil, err
	}
	ce, err := compose.New(gen, compose.WithMaxExcerptRunes(v.GetInt("max-excerpt")))
	if err != nil {
		return nil, err
	}
	return paper.New(db, se, ce, locker, paper.Config{
		GenerationTimeout: v.GetDuration("generation-timeout"),
		MinTextChars:      v.GetInt("min-text-chars"),
		StrictMarks:       v.GetBool("strict-marks"),
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	gen, err := newGenerator(ctx, v)
	if err != nil {
		return err
	}

	var locker lock.Locker = &lock.Local{}
	if url := v.GetString("redis-url"); url != "" {
		rdb, err := lock.Connect(ctx, url)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		// The lock must outlive the longest run it guards.
		locker = lock.NewRedis(rdb, v.GetDuration("generation-timeout")+30*time.Second)
	}

	svc, err := newService(db, gen, locker, v)
	if err != nil {
		return fmt.Errorf("create paper service: %w", err)
	}
	if v.GetString("redis-url") == "" {
		if err := svc.Recover(ctx); err != nil {
			return fmt.Errorf("recover interrupted generations: %w", err)
		}
	}

	h, err := handler.New(svc, db)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", srv.Addr,
			"model", gen.Model(),
			"llm_url", v.GetString("llm-url"),
			"lang", lang,
			"generation_timeout", v.GetDuration("generation-timeout"),
			"strict_marks", v.GetBool("strict-marks"),
			"distributed_locks", v.GetString("redis-url") != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	// Running generations write their terminal status before the database closes.
	svc.Wait()
	slog.Info("shutdown complete")
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()

	mode := structure.Mode(strings.ToLower(v.GetString("mode")))
	if mode != structure.ModeChapters && mode != structure.ModeTopics {
		return fmt.Errorf("unknown mode %q (want chapters or topics)", mode)
	}

	files, err := readFiles(args)
	if err != nil {
		return err
	}
	results, err := textract.ExtractAll(ctx, files)
	if err != nil {
		return err
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}

	gen, err := newGenerator(ctx, v)
	if err != nil {
		return err
	}
	se, err := structure.New(gen)
	if err != nil {
		return err
	}
	res, err := se.Extract(ctx, strings.Join(texts, "\n"), mode)
	if err != nil {
		return fmt.Errorf("extract %s: %w", mode, err)
	}
	return writeJSONTo(cmd.OutOrStdout(), res)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	raw, err := os.ReadFile(v.GetString("config"))
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var cfg model.GenerationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", v.GetString("config"), err)
	}
	files, err := readFiles(args)
	if err != nil {
		return err
	}

	db, err := store.New(":memory:")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	gen, err := newGenerator(ctx, v)
	if err != nil {
		return err
	}
	svc, err := newService(db, gen, nil, v)
	if err != nil {
		return fmt.Errorf("create paper service: %w", err)
	}

	rec, err := svc.CreatePaper(ctx, v.GetString("title"))
	if err != nil {
		return err
	}
	if _, err := svc.IngestFiles(ctx, rec.ID, files); err != nil {
		return err
	}
	if _, err := svc.UpdateConfig(ctx, rec.ID, cfg); err != nil {
		return err
	}
	out, err := svc.Generate(ctx, rec.ID, model.ReasonGeneration)
	if err != nil {
		return err
	}

	if err := writeOutput(v.GetString("output"), cmd.OutOrStdout(), func(w io.Writer) error {
		return writeJSONTo(w, out.JSON)
	}); err != nil {
		return err
	}
	if path := v.GetString("html"); path != "" {
		if err := writeFile(path, func(w io.Writer) error { return render.Paper(out.JSON).Render(ctx, w) }); err != nil {
			return err
		}
	}
	if path := v.GetString("answer-key"); path != "" {
		if out.AnswerKeyHTML == nil {
			slog.Warn("answer key not written, set generateAnswerKey in the config", "path", path)
			return nil
		}
		if err := writeFile(path, func(w io.Writer) error { return render.AnswerKey(out.JSON).Render(ctx, w) }); err != nil {
			return err
		}
	}
	return nil
}

func readFiles(paths []string) ([]textract.File, error) {
	files := make([]textract.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		mt := textract.TypeByExtension(p)
		if mt == "" {
			return nil, fmt.Errorf("%s: %w", p, textract.ErrUnsupportedType)
		}
		files = append(files, textract.File{Name: p, MimeType: mt, Data: data})
	}
	return files, nil
}

func writeJSONTo(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

// writeOutput writes to stdout for "" or "-", otherwise to the named file.
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(stdout)
	}
	return writeFile(path, write)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
