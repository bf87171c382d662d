// entry point to app :)
package main

import (
	"os"

	"github.com/ds124wfegd/rafflr/config"
	"github.com/ds124wfegd/rafflr/internal/appServer"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func loadConfig() (*config.Config, error) {
	viperInstance, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg, err := config.ParseConfig(viperInstance)
	if err != nil {
		return nil, err
	}
	appServer.ConfigureLogging(&cfg.Log)
	return cfg, nil
}

func command(use, short string, run func(cfg *config.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
}

func main() {
	logrus.SetFormatter(new(logrus.JSONFormatter))

	root := &cobra.Command{
		Use:           "rafflr",
		Short:         "Raffle marketplace ticket sale and draw service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		command("serve", "Run the HTTP API and the tick worker", appServer.NewServer),
		command("tick", "Run one scheduler tick and exit", appServer.RunTick),
		command("migrate", "Apply the postgres schema", appServer.RunMigrate),
		command("notify", "Consume the Redis event list and log deliveries", appServer.RunNotify),
	)

	if err := root.Execute(); err != nil {
		logrus.Errorf("Command failed: %s", err.Error())
		os.Exit(1)
	}
}
