package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/biofetch/internal/client"
	"github.com/italolelis/biofetch/internal/http/rest"
	"github.com/spf13/cobra"
)

// errJobFailed makes the process exit non-zero when a waited job fails.
var errJobFailed = errors.New("download failed")

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	var (
		accession string
		database  string
		noWait    bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download single file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := apiClient(cmd)
			out := cmd.OutOrStdout()

			job, err := c.Download(cmd.Context(), accession, database, true)
			if err != nil {
				fmt.Fprintf(out, "❌ Error: %v\n", err)

				return err
			}

			fmt.Fprintf(out, "✅ Download started for %s\n", accession)
			fmt.Fprintf(out, "📋 Job ID: %s\n", job.ID)
			fmt.Fprintf(out, "🔄 Status: %s\n", job.Status)

			if noWait {
				return nil
			}

			fmt.Fprintln(out, "\nWaiting for download to complete...")

			return waitForJob(cmd.Context(), c, out, job.ID)
		},
	}

	cmd.Flags().StringVar(&accession, "accession", "", "Accession ID")
	cmd.Flags().StringVar(&database, "db", "", "Database name")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Don't wait for completion")

	_ = cmd.MarkFlagRequired("accession")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// waitForJob polls job id until it reaches a terminal state.
func waitForJob(ctx context.Context, c *client.Client, out io.Writer, id string) error {
	interactive := isTerminal(out)
	ticker := time.NewTicker(pollInterval)

	defer ticker.Stop()

	last := ""

	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			fmt.Fprintf(out, "\n❌ Error checking status: %v\n", err)

			return err
		}

		var line string

		switch job.Status {
		case "pending":
			line = "⏳ Pending..."
		case "downloading":
			line = fmt.Sprintf("📥 Downloading... %.1f%%", job.Progress*100)
		case "completed":
			fmt.Fprintf(out, "\r✅ Download completed!              \n")

			if job.FileSize != nil {
				fmt.Fprintf(out, "📁 File size: %s\n", humanize.Bytes(uint64(*job.FileSize)))
			}

			if job.DownloadURL != nil {
				fmt.Fprintf(out, "🔗 Download URL: %s%s\n", c.BaseURL(), *job.DownloadURL)
			}

			return nil
		case "failed":
			reason := "Unknown error"
			if job.ErrorMessage != nil {
				reason = *job.ErrorMessage
			}

			fmt.Fprintf(out, "\r❌ Download failed: %s\n", reason)

			return fmt.Errorf("%w: %s", errJobFailed, reason)
		}

		switch {
		case interactive:
			fmt.Fprintf(out, "\r%s", line)
		case line != last:
			fmt.Fprintln(out, line)
		}

		last = line

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// NewBatchCmd creates the batch command.
func NewBatchCmd() *cobra.Command {
	var (
		accessions []string
		database   string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Batch download",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			resp, err := apiClient(cmd).BatchDownload(cmd.Context(), append(accessions, args...), database, true)
			if err != nil {
				fmt.Fprintf(out, "❌ Error: %v\n", err)

				return err
			}

			fmt.Fprintf(out, "✅ Batch download started: %d jobs created\n", resp.Total)

			for _, job := range resp.Jobs {
				fmt.Fprintf(out, "  - %s: %s\n", job.AccessionID, job.ID)
			}

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&accessions, "accessions", nil, "Accession IDs (comma separated or repeated)")
	cmd.Flags().StringVar(&database, "db", "", "Database name")

	_ = cmd.MarkFlagRequired("accessions")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check job status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := apiClient(cmd)

			job, err := c.Job(cmd.Context(), jobID)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "❌ Error: %v\n", err)

				return err
			}

			printJob(cmd.OutOrStdout(), c, job)

			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Job ID")
	_ = cmd.MarkFlagRequired("job-id")

	return cmd
}

func printJob(out io.Writer, c *client.Client, job *rest.JobResponse) {
	fmt.Fprintln(out, "\n📋 Job Details:")
	fmt.Fprintf(out, "  ID: %s\n", job.ID)
	fmt.Fprintf(out, "  Accession: %s\n", job.AccessionID)
	fmt.Fprintf(out, "  Database: %s\n", job.Database)
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	fmt.Fprintf(out, "  Progress: %.1f%%\n", job.Progress*100)

	if job.FileSize != nil {
		fmt.Fprintf(out, "  Size: %s\n", humanize.Bytes(uint64(*job.FileSize)))
	}

	if job.Checksum != nil {
		fmt.Fprintf(out, "  Checksum: %s\n", *job.Checksum)
	}

	if job.ErrorMessage != nil {
		fmt.Fprintf(out, "  Error: %s\n", *job.ErrorMessage)
	}

	if job.DownloadURL != nil {
		fmt.Fprintf(out, "  Download: %s%s\n", c.BaseURL(), *job.DownloadURL)
	}
}

// NewJobsCmd creates the jobs command.
func NewJobsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := apiClient(cmd).Jobs(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if len(list) == 0 {
				fmt.Fprintln(out, "No jobs found.")

				return nil
			}

			fmt.Fprintln(out, "\n📋 Recent Jobs:")
			fmt.Fprintln(out, strings.Repeat("=", 80))
			fmt.Fprintf(out, "%s %s %s %s\n", cell("Accession", 15), cell("Database", 12), cell("Status", 12), "Progress")
			fmt.Fprintln(out, strings.Repeat("=", 80))

			for _, job := range list {
				fmt.Fprintf(out, "%s %s %s %.1f%%\n",
					cell(job.AccessionID, 15), cell(job.Database, 12), cell(job.Status, 12), job.Progress*100)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of jobs")

	return cmd
}
