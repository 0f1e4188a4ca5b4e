package cli

import (
	"github.com/spf13/cobra"

	"github.com/leshsec/lesh/internal/client"
)

func newThreatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threats",
		Short: "Inspect and resolve recorded threats",
	}
	cmd.AddCommand(newThreatsListCmd())
	cmd.AddCommand(newThreatsShowCmd())
	cmd.AddCommand(newThreatsResolveCmd())
	return cmd
}

func newThreatsListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			threats, err := c.ListThreats(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			return printJSON(cmd, threats)
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only unresolved threats")
	return cmd
}

func newThreatsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one threat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			t, err := c.GetThreat(cmd.Context(), args[0])
			if err != nil {
				return exitCodeForClientError(err)
			}
			return printJSON(cmd, t)
		},
	}
}

func newThreatsResolveCmd() *cobra.Command {
	var details string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a threat resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			t, err := c.ResolveThreat(cmd.Context(), args[0], details)
			if err != nil {
				return exitCodeForClientError(err)
			}
			return printJSON(cmd, t)
		},
	}
	cmd.Flags().StringVar(&details, "details", "", "Resolution note")
	return cmd
}
