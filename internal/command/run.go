package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dandantas/scout/internal/client"
	"github.com/dandantas/scout/internal/model"
	"github.com/spf13/cobra"
)

var errJobFailed = errors.New("job failed")

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <type>",
		Short: "Start a pipeline and follow its steps",
		Long:  "Start a pipeline (content, visibility, events, insights, photos, busy_times, weather, refresh_all) and follow its steps.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineType, err := model.ParsePipelineType(args[0])
			if err != nil {
				return err
			}
			location, _ := cmd.Flags().GetString("location")
			if location == "" {
				return fmt.Errorf("--location is required")
			}
			resume, _ := cmd.Flags().GetBool("resume")

			api, err := newAPI(cmd)
			if err != nil {
				return err
			}
			runner := client.NewRunner(api)

			return follow(cmd, runner, func(ctx context.Context) error {
				if resume {
					found, err := runner.Resume(ctx, pipelineType, location)
					if err != nil || found {
						return err
					}
				}
				return runner.Start(ctx, pipelineType, location)
			})
		},
	}

	cmd.Flags().String("location", "", "location id")
	cmd.Flags().Bool("resume", true, "attach to an in-flight job of the same type and location instead of starting another")
	return cmd
}

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Reconnect to a job and follow its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPI(cmd)
			if err != nil {
				return err
			}
			runner := client.NewRunner(api)
			return follow(cmd, runner, func(ctx context.Context) error {
				return runner.Reconnect(ctx, args[0], "")
			})
		},
	}
	return cmd
}

// follow renders runner progress until the job ends or the user interrupts
func follow(cmd *cobra.Command, runner *client.Runner, start func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := newProgressPrinter(cmd.OutOrStdout())
	runner.OnChange(printer.Update)

	if err := start(ctx); err != nil {
		return err
	}

	s, err := waitAttached(ctx, runner)
	if err != nil {
		return err
	}
	printer.Finish(s)
	if s.Phase == client.PhaseFailed {
		return errJobFailed
	}
	return nil
}

// waitAttached waits for the run to settle, reattaching whenever the server
// stops streaming a job that is still running.
func waitAttached(ctx context.Context, runner *client.Runner) (client.State, error) {
	for {
		done := make(chan struct{})
		go func() {
			runner.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			runner.Close()
			return runner.State(), nil
		}

		s := runner.State()
		if !s.Detached || s.JobID == "" {
			return s, nil
		}
		if err := runner.Reconnect(ctx, s.JobID, s.LocationID); err != nil {
			if ctx.Err() != nil {
				return runner.State(), nil
			}
			return s, err
		}
	}
}
