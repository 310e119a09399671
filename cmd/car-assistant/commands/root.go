package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"car-assistant/internal/app"
	"car-assistant/internal/config"
	"car-assistant/internal/ui"
)

// options holds the persistent flags. Flags only override the config file
// and environment when they were set explicitly.
type options struct {
	configPath      string
	apiURL          string
	userID          string
	dataDir         string
	backend         string
	bucket          string
	credentialsFile string
	blobDir         string
	noMarkdown      bool
	verbose         bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "car-assistant",
		Short: "Ask your car's owner manual and keep the chats",
		Long: `car-assistant is a terminal chat with the car-manual question answering
service. Chats are saved on this device and, when signed in, mirrored to a
per-user folder in remote storage.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.car-assistant/config.toml)")
	flags.StringVar(&opts.apiURL, "api-url", "", "question answering service URL")
	flags.StringVar(&opts.userID, "user", "", "signed-in user id; empty keeps chats local")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory holding chats.json and the log")
	flags.StringVar(&opts.backend, "backend", "", "remote mirror: gcs, dir or none")
	flags.StringVar(&opts.bucket, "bucket", "", "storage bucket for the gcs backend")
	flags.StringVar(&opts.credentialsFile, "credentials", "", "service account file for the gcs backend")
	flags.StringVar(&opts.blobDir, "blob-dir", "", "mirror directory for the dir backend")
	flags.BoolVar(&opts.noMarkdown, "no-markdown", false, "print answers as plain text")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "also write log lines to stderr")

	rootCmd.AddCommand(newSessionsCommand(opts))
	rootCmd.AddCommand(newReconcileCommand(opts))

	return rootCmd
}

// Execute runs the root command
func Execute() {
	config.GetEnv = os.Getenv

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig merges defaults, the config file, the environment and flags
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("api-url") {
		cfg.APIURL = o.apiURL
	}
	if flags.Changed("user") {
		cfg.UserID = o.userID
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = o.dataDir
	}
	if flags.Changed("backend") {
		cfg.BlobBackend = o.backend
	}
	if flags.Changed("bucket") {
		cfg.Bucket = o.bucket
	}
	if flags.Changed("credentials") {
		cfg.CredentialsFile = o.credentialsFile
	}
	if flags.Changed("blob-dir") {
		cfg.BlobDir = o.blobDir
	}
	if flags.Changed("no-markdown") {
		cfg.RenderMarkdown = !o.noMarkdown
	}
	if flags.Changed("verbose") {
		cfg.Verbose = o.verbose
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// openScope builds the services and a display bound to the command's output
func (o *options) openScope(cmd *cobra.Command) (*app.Scope, *ui.Display, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	scope, err := app.New(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return scope, ui.NewDisplay(cmd.OutOrStdout(), cfg.RenderMarkdown), nil
}
