package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/manash/adcraft/internal/batch"
	"github.com/manash/adcraft/internal/config"
	"github.com/manash/adcraft/internal/display"
	"github.com/manash/adcraft/internal/image"
	"github.com/manash/adcraft/internal/imagestore"
	"github.com/manash/adcraft/internal/logging"
	"github.com/manash/adcraft/internal/objectstore"
	"github.com/manash/adcraft/internal/repl"
	"github.com/manash/adcraft/internal/session"
	"github.com/manash/adcraft/internal/store"
	"github.com/manash/adcraft/internal/suggestion"
	"github.com/manash/adcraft/internal/webhook"
	"github.com/manash/adcraft/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	flagContext  string
	flagBrand    string
	flagLanding  string
	flagAudience string
	flagTopic    string
	flagImage    string
	flagJSON     bool

	flagLimit int
	flagAgent string

	flagOutDir      string
	flagParallel    int
	flagStopOnError bool
	flagDelay       int
	flagDownload    bool
)

type App struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	LoadConfig func(path string) (*config.Config, error)
	OpenStore  func(path string) (*store.Store, error)
	NewStorage func(ctx context.Context, cfg *config.Config) (objectstore.Storage, error)
	NewWebhook func(cfg webhook.Config) (*webhook.Client, error)
	NewSaver   func() *image.Saver
}

func DefaultApp() *App {
	return &App{
		In:         os.Stdin,
		Out:        os.Stdout,
		Err:        os.Stderr,
		LoadConfig: config.Load,
		OpenStore:  store.NewStoreWithPath,
		NewStorage: newStorage,
		NewWebhook: webhook.New,
		NewSaver:   image.NewSaver,
	}
}

// newStorage picks the object storage backend named in cfg.
func newStorage(ctx context.Context, cfg *config.Config) (objectstore.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		s3, err := objectstore.NewS3Storage(ctx, objectstore.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKeyID:   cfg.S3AccessKeyID,
			SecretKey:     cfg.S3SecretKey,
			UsePathStyle:  cfg.S3UsePathStyle,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}, log.Logger)
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		local, err := objectstore.NewLocalStorage(cfg.LocalStoragePath, cfg.LocalStorageBaseURL, log.Logger)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adcraft",
		Short: "Create and refine LinkedIn and Google ad suggestions",
		Long: `adcraft turns a campaign brief into LinkedIn and Google ad suggestions
and lets you refine each suggestion's image through a chat conversation.

Without a subcommand it starts the interactive shell.

Examples:
  adcraft
  adcraft generate --context "Spring launch" --audience "Facility Directors"
  adcraft history 5f1c0b8e-...
  adcraft calls --agent chat`,
		Args:          cobra.NoArgs,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, args, app)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format (console, json)")

	cmd.AddCommand(newGenerateCmd(app))
	cmd.AddCommand(newBatchCmd(app))
	cmd.AddCommand(newHistoryCmd(app))
	cmd.AddCommand(newRecentCmd(app))
	cmd.AddCommand(newCallsCmd(app))

	return cmd
}

func newGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one batch of ad suggestions and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args, app)
		},
	}

	cmd.Flags().StringVarP(&flagContext, "context", "c", "", "campaign context (required)")
	cmd.Flags().StringVar(&flagBrand, "brand", "", "brand guidelines")
	cmd.Flags().StringVar(&flagLanding, "landing", "", "landing page URL")
	cmd.Flags().StringVarP(&flagAudience, "audience", "a", "", "target audience")
	cmd.Flags().StringVarP(&flagTopic, "topic", "t", "", "topic area")
	cmd.Flags().StringVarP(&flagImage, "image", "i", "", "reference image file")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "print suggestions as JSON")

	return cmd
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Generate suggestions for every brief in a YAML, JSON or text file",
		Long: `Generate one suggestion batch per campaign brief and write each batch to
a JSON file in the output directory.

YAML and JSON files hold a list of briefs with the fields name, context,
brand_guidelines, landing_page_url, target_audience, topic_area and image.
Text files hold one campaign context per line; lines starting with # are
skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, app)
		},
	}

	cmd.Flags().StringVarP(&flagOutDir, "output", "o", "adcraft-batch", "output directory")
	cmd.Flags().IntVarP(&flagParallel, "parallel", "p", 1, "number of briefs processed concurrently")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failed brief")
	cmd.Flags().IntVar(&flagDelay, "delay", 0, "delay between briefs in milliseconds (sequential only)")
	cmd.Flags().BoolVar(&flagDownload, "download", false, "also download generated images")

	return cmd
}

func newHistoryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "history <suggestion-id>",
		Short: "Show the saved image versions of a suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args, app)
		},
	}
}

func newRecentCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recently saved images across all suggestions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecent(cmd, args, app)
		},
	}
	cmd.Flags().IntVarP(&flagLimit, "limit", "n", 10, "number of records to show")
	return cmd
}

func newCallsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Summarize outbound webhook calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalls(cmd, args, app)
		},
	}
	cmd.Flags().StringVar(&flagAgent, "agent", "", "filter by agent (suggestions, chat, enhance)")
	cmd.Flags().IntVarP(&flagLimit, "limit", "n", 10, "number of recent calls to show")
	return cmd
}

// env holds what every command shares once configuration is loaded.
type env struct {
	cfg    *config.Config
	store  *store.Store
	images *imagestore.Service
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

// openEnv loads configuration, initializes logging and opens the store.
// Object storage is optional; a backend that fails to start only disables
// uploads.
func openEnv(ctx context.Context, app *App, needWebhooks bool) (*env, error) {
	cfg, err := app.LoadConfig(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	logging.InitWithWriter(app.Err, cfg.LogLevel, cfg.LogFormat)

	if needWebhooks {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	st, err := app.OpenStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var objects objectstore.Storage
	if needWebhooks {
		objects, err = app.NewStorage(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Str("backend", cfg.StorageBackend).Msg("object storage unavailable, uploads disabled")
			objects = nil
		}
	}

	return &env{cfg: cfg, store: st, images: imagestore.New(st, objects)}, nil
}

func (e *env) newWebhook(app *App) (*webhook.Client, error) {
	client, err := app.NewWebhook(webhook.Config{
		SuggestionURL: e.cfg.SuggestionWebhookURL,
		ChatURL:       e.cfg.ChatWebhookURL,
		EnhanceURL:    e.cfg.EnhanceFunctionURL,
		Timeout:       e.cfg.WebhookTimeout,
		Recorder:      e.store,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}
	return client, nil
}

func runInteractive(_ *cobra.Command, _ []string, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e, err := openEnv(ctx, app, true)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.newWebhook(app)
	if err != nil {
		return err
	}

	set := suggestion.NewSet()
	mgr := session.NewManager(set, client, session.Options{
		Persister: e.images,
		Notifier:  repl.NewNotifier(app.Err),
	})

	saver := app.NewSaver()
	r := repl.New(&repl.Config{
		In:          app.In,
		Out:         app.Out,
		Err:         app.Err,
		Service:     client,
		Suggestions: set,
		SessionMgr:  mgr,
		Images:      e.images,
		Saver:       saver,
		Displayer:   display.New(app.Out, saver, display.IsTerminalSupported()),
	})

	err = r.Run(ctx)
	mgr.Close()
	mgr.Wait()
	return err
}

func runGenerate(_ *cobra.Command, _ []string, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	in := models.AdInput{
		Context:         flagContext,
		BrandGuidelines: flagBrand,
		LandingPageURL:  flagLanding,
		TargetAudience:  flagAudience,
		TopicArea:       flagTopic,
	}
	if flagImage != "" {
		data, err := os.ReadFile(flagImage)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		in.Image = data
		in.ImageFilename = filepath.Base(flagImage)
	}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}

	e, err := openEnv(ctx, app, true)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.newWebhook(app)
	if err != nil {
		return err
	}

	if in.HasImage() {
		url, err := e.images.UploadSourceImage(ctx, in.Image, in.ImageFilename)
		if err != nil {
			fmt.Fprintf(app.Err, "Warning: image upload failed: %v\n", err)
		} else {
			fmt.Fprintf(app.Err, "Uploaded reference image (%s): %s\n", humanize.IBytes(uint64(len(in.Image))), url)
		}
	}

	if !flagJSON {
		fmt.Fprintln(app.Out, "Generating suggestions...")
	}
	batch := client.GenerateSuggestions(ctx, in)

	if flagJSON {
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	}

	set := suggestion.NewSet()
	if err := set.Load(batch); err != nil {
		return err
	}
	parts := set.Partition()
	for _, p := range models.ValidPlatforms() {
		group := parts[p]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(app.Out, "\n%s\n", p.DisplayName())
		for _, s := range group {
			fmt.Fprintf(app.Out, "  %s\n", s.Headline)
			fmt.Fprintf(app.Out, "    ID:         %s\n", s.ID)
			fmt.Fprintf(app.Out, "    %s\n", s.Description)
			fmt.Fprintf(app.Out, "    Dimensions: %s\n", s.Dimensions)
			if s.HasImage() {
				fmt.Fprintf(app.Out, "    Image:      %s\n", s.GeneratedImageURL)
			} else {
				fmt.Fprintf(app.Out, "    Image idea: %s\n", s.ImageRecommendation)
			}
		}
	}
	return nil
}

func runBatch(_ *cobra.Command, args []string, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	briefs, err := batch.ParseFile(args[0])
	if err != nil {
		return err
	}

	e, err := openEnv(ctx, app, true)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.newWebhook(app)
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Out, "Processing %d brief(s)...\n", len(briefs))

	proc := batch.NewProcessor(client, app.NewSaver(), app.Out, app.Err)
	results, err := proc.Process(ctx, briefs, &batch.Options{
		OutputDir:      flagOutDir,
		Parallel:       flagParallel,
		StopOnError:    flagStopOnError,
		DelayMs:        flagDelay,
		DownloadImages: flagDownload,
	})
	proc.PrintSummary(results)
	return err
}

func runHistory(_ *cobra.Command, args []string, app *App) error {
	ctx := context.Background()

	e, err := openEnv(ctx, app, false)
	if err != nil {
		return err
	}
	defer e.Close()

	records, err := e.images.ListGeneratedImagesForSuggestion(ctx, args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(app.Out, "No saved images for suggestion %s\n", args[0])
		return nil
	}

	printRecords(app.Out, records)
	return nil
}

func runRecent(_ *cobra.Command, _ []string, app *App) error {
	ctx := context.Background()

	e, err := openEnv(ctx, app, false)
	if err != nil {
		return err
	}
	defer e.Close()

	records, err := e.images.ListRecentGeneratedImages(ctx, flagLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(app.Out, "No saved images yet")
		return nil
	}

	printRecords(app.Out, records)
	return nil
}

func printRecords(w io.Writer, records []*models.GeneratedImageRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SAVED\tPLATFORM\tSOURCE\tHEADLINE\tIMAGE")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(rec.CreatedAt), rec.Platform.DisplayName(),
			orDash(rec.Metadata.Source), orDash(rec.Metadata.Headline), rec.ImageURL)
	}
	tw.Flush()
}

func runCalls(_ *cobra.Command, _ []string, app *App) error {
	ctx := context.Background()

	e, err := openEnv(ctx, app, false)
	if err != nil {
		return err
	}
	defer e.Close()

	summary, err := e.store.SummarizeAPICalls(ctx)
	if err != nil {
		return err
	}
	if len(summary) == 0 {
		fmt.Fprintln(app.Out, "No webhook calls recorded")
		return nil
	}

	tw := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tCALLS\tFAILURES\tAVG")
	for _, s := range summary {
		if flagAgent != "" && s.Agent != flagAgent {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.0fms\n", s.Agent, s.Calls, s.Failures, s.AvgMillis)
	}
	tw.Flush()

	calls, err := e.store.ListAPICalls(ctx, flagAgent, flagLimit)
	if err != nil {
		return err
	}

	fmt.Fprintln(app.Out)
	fmt.Fprintln(app.Out, "Recent calls:")
	tw = tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tAGENT\tSTATUS\tDURATION\tERROR")
	for _, c := range calls {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%dms\t%s\n",
			store.FormatTimestamp(c.CreatedAt), c.Agent, c.StatusCode, c.DurationMs, orDash(c.Error))
	}
	tw.Flush()
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
