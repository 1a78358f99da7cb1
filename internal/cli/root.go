// Package cli implements biofetchctl, the command line front end of the API.
package cli

import (
	"io"
	"os"
	"time"

	"github.com/italolelis/biofetch/internal/client"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// pollInterval is how often download --wait checks the job.
var pollInterval = time.Second

// NewRootCmd creates the biofetchctl command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "biofetchctl",
		Short: "BioFetch CLI - Unified Bioinformatics Data Downloader",
		Long: `biofetchctl drives a running biofetch server.

Examples:
  biofetchctl test
  biofetchctl databases
  biofetchctl download --accession SRR000001 --db sra
  biofetchctl download --accession SRR000001 --db sra --no-wait
  biofetchctl batch --accessions SRR000001,SRR000002 --db sra
  biofetchctl status --job-id <job_id>
  biofetchctl jobs --limit 20
  biofetchctl stats`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("api-url", client.DefaultAPIURL, "BioFetch API URL")

	cmd.AddCommand(
		NewTestCmd(),
		NewDatabasesCmd(),
		NewDownloadCmd(),
		NewBatchCmd(),
		NewStatusCmd(),
		NewJobsCmd(),
		NewStatsCmd(),
	)

	return cmd
}

func apiClient(cmd *cobra.Command) *client.Client {
	url, err := cmd.Flags().GetString("api-url")
	if err != nil || url == "" {
		url = client.DefaultAPIURL
	}

	return client.New(url, nil)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)

	return ok && term.IsTerminal(int(f.Fd()))
}

// cell pads or truncates s to width display columns.
func cell(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}
