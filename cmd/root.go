// Package cmd defines and implements the CLI commands for the scholarship crawler.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/config"
	"github.com/JakeFAU/scholarship-crawler/internal/retrieval"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
	"github.com/JakeFAU/scholarship-crawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application the commands use.
// Tests replace it with a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	StartWorkers(ctx context.Context)
	Refresh(ctx context.Context, keyword string) (scholarship.RefreshSummary, error)
	Answer(ctx context.Context, question string) (retrieval.AnswerPayload, error)
	WaitTask(ctx context.Context, id string) (scholarship.IndexTask, error)
	Logger() *zap.Logger
	Close()
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scholarship-crawler",
		Short: "Crawls a department notice board for scholarship announcements.",
		Long: `scholarship-crawler pulls scholarship notices from a university notice board,
converts their attachments to text, extracts eligibility fields with an LLM,
stores them, and answers questions over the collected documents.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	cmd.AddCommand(newServeCmd(), newRefreshCmd(), newAskCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	// A missing .env is fine; environment variables still apply.
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorColor("error:"), err)
		os.Exit(1)
	}
}
