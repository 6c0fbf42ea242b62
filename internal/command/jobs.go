package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewJobsCmd creates the jobs command.
func NewJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List running jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			recent, _ := cmd.Flags().GetBool("recent")
			jsonMode, _ := cmd.Flags().GetBool("json")

			api, err := newAPI(cmd)
			if err != nil {
				return err
			}
			jobs, err := api.ActiveJobs(cmd.Context(), recent)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonMode {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}
			fmt.Fprint(out, formatJobs(jobs, time.Now()))
			return nil
		},
	}

	cmd.Flags().Bool("recent", false, "include jobs that finished recently")
	return cmd
}
