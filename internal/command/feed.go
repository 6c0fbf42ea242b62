package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/dandantas/scout/internal/model"
	"github.com/spf13/cobra"
)

// NewFeedCmd creates the feed command.
func NewFeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Print the ambient feed of a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			if location == "" {
				return fmt.Errorf("--location is required")
			}

			api, err := newAPI(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			stream, err := api.Feed(ctx, location)
			if err != nil {
				return err
			}
			defer stream.Close()

			out := cmd.OutOrStdout()
			for {
				ev, err := stream.Next()
				if err != nil {
					if errors.Is(err, io.EOF) || ctx.Err() != nil {
						return nil
					}
					return err
				}
				switch ev.Name {
				case model.EventCard:
					var card model.AmbientCard
					if err := ev.Decode(&card); err != nil {
						continue
					}
					fmt.Fprintf(out, "%s %s\n", styleCard.Render("["+card.Category+"]"), card.Text)
				case model.EventError:
					var e model.ErrorEvent
					_ = ev.Decode(&e)
					return fmt.Errorf("feed failed: %s", e.Message)
				case model.EventDone:
					return nil
				}
			}
		},
	}

	cmd.Flags().String("location", "", "location id")
	return cmd
}
