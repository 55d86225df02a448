package migrate

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alpacahq/peersync/store"
	"github.com/alpacahq/peersync/utils"
	"github.com/alpacahq/peersync/utils/log"
)

const (
	usage                 = "migrate"
	short                 = "Create the records table and the change capture trigger"
	long                  = "This command applies the pending schema migrations and reinstalls the change capture trigger"
	example               = "peersync migrate --config <path>"
	defaultConfigFilePath = "./peersync.yml"
	configDesc            = "set the path for the peersync YAML configuration file"
)

var (
	// Cmd is the migrate command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		RunE:    executeMigrate,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

func executeMigrate(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}
	cmd.SilenceUsage = true

	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}
	log.SetLevel(config.LogLevel)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := store.NewPool(ctx, config.Database.URL, config.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("failed to connect to the database: %w", err)
	}
	defer pool.Close()

	if err := store.New(pool, utils.InstanceIdentity(config.InstanceID)).Migrate(ctx, config.Replication.Channel); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	log.Info("schema is up to date, trigger notifies on channel %s", config.Replication.Channel)
	return nil
}
