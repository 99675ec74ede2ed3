// Package app implements the main application commands.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/daemon"
	"github.com/bitu-idm/dirsync/internal/logger"
)

const defaultConfigPath = "./etc/"

var (
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "dirsync",
		Short: "dirsync keeps LDAP directories in line with the identity database",
		Long: `dirsync provisions accounts, reconciles ssh public keys and grants
group permissions in LDAP directories, driven by the records of the
identity management database.`,
		Args:              cobra.OnlyValidArgs,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() { //nolint: gochecknoinits
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "directory holding main.toml")

	viper.SetEnvPrefix("DIRSYNC")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

// loadConfig reads the configuration named by --config or DIRSYNC_CONFIG and sets up logging.
func loadConfig(_ *cobra.Command, _ []string) error {
	var err error

	if cfg, err = config.ReadConfig(viper.GetString("config")); err != nil {
		return err
	}

	if err = logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	return nil
}

// newDaemon wires the components for one command run.
func newDaemon() (*daemon.Daemon, error) {
	return daemon.New(&cfg)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
