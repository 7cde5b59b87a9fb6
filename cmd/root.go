package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/pcmio/cmd/config"
	"github.com/tphakala/pcmio/cmd/devices"
	"github.com/tphakala/pcmio/cmd/loopback"
	"github.com/tphakala/pcmio/cmd/play"
	"github.com/tphakala/pcmio/cmd/record"
	"github.com/tphakala/pcmio/internal/buildinfo"
	"github.com/tphakala/pcmio/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "pcmio",
		Short:         "Double-buffered PCM capture and playback",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	subcommands := []*cobra.Command{
		devices.Command(settings, build),
		record.Command(settings, build),
		play.Command(settings, build),
		loopback.Command(settings, build),
		config.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := conf.BindFlags(viper.GetViper(), cmd.Flags()); err != nil {
			return err
		}
		loaded, err := conf.Load(viper.GetViper(), configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to pcmio.yaml (default: ./, ~/.config/pcmio, /etc/pcmio)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	return conf.MapFlag(rootCmd.PersistentFlags(), "debug", "debug")
}
