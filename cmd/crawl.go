package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sitechat/ingest/internal/orchestrator"
	"github.com/sitechat/ingest/internal/pipeline"
	"github.com/sitechat/ingest/internal/server"
)

func newCrawlCmd() *cobra.Command {
	var (
		force    bool
		maxPages int
	)

	cmd := &cobra.Command{
		Use:   "crawl <domain>",
		Short: "Run one crawl in the foreground and print the terminal job state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build service: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = app.Close(closeCtx)
			}()

			runner := app.Runner()
			jobID, err := runner.StartCrawl(cmd.Context(), pipeline.CrawlRequest{
				Domain:        args[0],
				ForceRescrape: force,
				MaxPages:      maxPages,
			})
			if err != nil {
				return fmt.Errorf("start crawl: %w", err)
			}

			job, err := waitForTerminal(cmd.Context(), runner, jobID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return fmt.Errorf("encode job: %w", err)
			}
			if job.Status != pipeline.JobStatusCompleted {
				return fmt.Errorf("crawl finished with status %s", job.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-embed pages even when their content is unchanged")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "cap the number of pages fetched (0 uses the configured default)")
	return cmd
}

// waitForTerminal polls the job row until it reaches a terminal state. On
// interrupt the job is cancelled and the cancelled row returned.
func waitForTerminal(ctx context.Context, runner *orchestrator.Runner, jobID uuid.UUID) (pipeline.CrawlJob, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = runner.CancelCrawl(cancelCtx, jobID)
			cancel()
		case <-ticker.C:
		}

		statusCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		job, err := runner.GetJobStatus(statusCtx, jobID)
		cancel()
		if err != nil {
			return pipeline.CrawlJob{}, fmt.Errorf("get job status: %w", err)
		}
		if job.Status.Terminal() {
			return job, nil
		}
	}
}
