// Package command implements the scoutctl operator CLI.
package command

import (
	"fmt"
	"os"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/client"
	"github.com/spf13/cobra"
)

const AppName = "scoutctl"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// Execute runs the root command
func Execute() error {
	return NewRootCmd(Version).Execute()
}

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "scoutctl - run and follow scout pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("server", envOr("SCOUT_SERVER", "http://localhost:8080"), "scout server base URL")
	cmd.PersistentFlags().String("tenant", os.Getenv("SCOUT_TENANT"), "tenant id")
	cmd.PersistentFlags().String("user", envOr("SCOUT_USER", "scoutctl"), "user id")
	cmd.PersistentFlags().String("role", envOr("SCOUT_ROLE", auth.RoleOwner), "role (owner, admin, member)")
	cmd.PersistentFlags().String("secret", os.Getenv("SCOUT_PROXY_SECRET"), "proxy secret")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewRunCmd(),
		NewWatchCmd(),
		NewJobsCmd(),
		NewFeedCmd(),
	)
	return cmd
}

// newAPI builds the API client from persistent flags
func newAPI(cmd *cobra.Command) (*client.API, error) {
	server, _ := cmd.Flags().GetString("server")
	tenant, _ := cmd.Flags().GetString("tenant")
	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	secret, _ := cmd.Flags().GetString("secret")

	if tenant == "" {
		return nil, fmt.Errorf("--tenant is required (or set SCOUT_TENANT)")
	}
	principal := auth.Principal{UserID: user, TenantID: tenant, Role: role}
	return client.NewAPI(server, principal, secret, nil), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
