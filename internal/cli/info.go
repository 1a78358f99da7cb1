package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// NewTestCmd creates the test command.
func NewTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test API connection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := apiClient(cmd).CheckCompatibility(cmd.Context())
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "❌ API Connection failed: %v\n", err)

				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ API Connection: %s (version %s)\n", root.Message, root.Version)

			return nil
		},
	}
}

// NewDatabasesCmd creates the databases command.
func NewDatabasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List supported databases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbs, err := apiClient(cmd).Databases(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "\n🗄️  Supported Databases:")
			fmt.Fprintln(out, strings.Repeat("=", 50))

			for _, db := range dbs {
				fmt.Fprintf(out, "  %s - %s\n", cell(db.ID, 12), db.Name)
				fmt.Fprintf(out, "    Examples: %s\n", strings.Join(db.ExampleIDs, ", "))

				if len(db.ValidationPrefixes) > 0 {
					fmt.Fprintf(out, "    Prefixes: %s\n", strings.Join(db.ValidationPrefixes, ", "))
				}

				fmt.Fprintf(out, "    Downloads: %d\n\n", db.TotalDownloads)
			}

			return nil
		},
	}
}

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := apiClient(cmd).Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "\n📊 BioFetch Statistics")
			fmt.Fprintln(out, strings.Repeat("=", 30))
			fmt.Fprintf(out, "Total Downloads: %d\n", stats.TotalDownloads)
			fmt.Fprintf(out, "Completed: %d\n", stats.CompletedDownloads)
			fmt.Fprintf(out, "Failed: %d\n", stats.FailedDownloads)
			fmt.Fprintf(out, "Success Rate: %.1f%%\n", stats.SuccessRate*100)

			if len(stats.DatabaseBreakdown) > 0 {
				fmt.Fprintln(out, "\nDatabase Breakdown:")

				ids := make([]string, 0, len(stats.DatabaseBreakdown))
				for id := range stats.DatabaseBreakdown {
					ids = append(ids, id)
				}

				slices.Sort(ids)

				for _, id := range ids {
					fmt.Fprintf(out, "  %s: %d\n", id, stats.DatabaseBreakdown[id])
				}
			}

			return nil
		},
	}
}
