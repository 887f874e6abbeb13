package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "hexnews",
		Short:         "Hex News feed synchronization backend",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newSyncCommand(), newGenDataCommand(), newPostCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("root-address", "", "Root identity of the invite graph")
	cmd.PersistentFlags().Int("fetch-batch-size", defaults.GetInt("sync.fetch_batch_size"), "Log entries fetched concurrently per identity")
	cmd.PersistentFlags().Int("concurrency", defaults.GetInt("sync.concurrency"), "Identities fetched concurrently per sub-round")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Interval between synchronization rounds (0 disables)")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Log storage backend (sqlite, memory, http)")
	cmd.PersistentFlags().String("storage-url", "", "Base URL of a remote log server")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "sync.root_address", "root-address")
	bindFlag(cmd, "sync.fetch_batch_size", "fetch-batch-size")
	bindFlag(cmd, "sync.concurrency", "concurrency")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.http.url", "storage-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
