package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/server"
)

// defaultConfigPaths are tried in order when --config is not given.
var defaultConfigPaths = []string{"./lesh.yml", "./lesh.yaml", "/etc/lesh/config.yaml"}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lesh agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, path, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, level := config.NewLogger(cfg.Logging)

			s, err := server.New(cfg, path, logger, level)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "lesh agent listening on %s\n", s.Addr())
			return s.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config YAML (default: ./lesh.yml, ./lesh.yaml, or /etc/lesh/config.yaml)")
	return cmd
}

// loadConfig resolves the config path and loads it. With no path and no file
// at the default locations the built-in defaults apply.
func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		if err != nil {
			return nil, "", err
		}
		return cfg, explicit, nil
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			cfg, err := config.Load(p)
			if err != nil {
				return nil, "", err
			}
			return cfg, p, nil
		}
	}
	return config.Default(), "", nil
}
