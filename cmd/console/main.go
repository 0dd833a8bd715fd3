// Command console serves the product launch API and administers its catalog.
//
//	console serve
//	console migrate
//	console product create --name CRM --url https://crm.example.com/launch
//	console subscribe --tenant 3 --product 1
package main

import (
	"fmt"
	"os"

	"github.com/getkayan/console/core/config"
	"github.com/getkayan/console/core/logger"
	"github.com/getkayan/console/kgorm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var version = "dev"

// cli carries the state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configFile string
}

func (c *cli) load() (*config.Config, error) {
	cfg, err := config.Load(c.v, c.configFile)
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.LogLevel)
	return cfg, nil
}

// openStorage loads the configuration and opens the database, migrating it
// unless SKIP_AUTO_MIGRATE is set.
func (c *cli) openStorage() (*config.Config, *kgorm.Repository, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	repo, err := kgorm.NewStorage(cfg.DBType, cfg.DSN, kgorm.Options{AutoMigrate: !cfg.SkipAutoMigrate})
	if err != nil {
		return nil, nil, err
	}
	return cfg, repo, nil
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "console",
		Short:         "Product marketplace and magic link launch service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (yaml, json or toml); environment variables override it")

	root.AddCommand(
		newServeCommand(c),
		newMigrateCommand(c),
		newProductCommand(c),
		newGrantCommand(c),
		newSubscribeCommand(c),
		newUsageCommand(c),
		newAuditCommand(c),
	)
	return root
}

func main() {
	err := newRootCommand().Execute()
	_ = logger.Log.Sync()
	if err != nil {
		logger.Log.Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
