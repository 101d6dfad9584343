package cmd

import (
	"fmt"

	"github.com/javi11/mediajanitor/internal/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the client configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
	showCmd.Flags().Bool("secrets", false, "print API keys unmasked")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), resolvedConfigPath())
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	initCmd.Flags().String("server", "", "server URL to store in the new file")

	configCmd.AddCommand(showCmd, pathCmd, initCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	shown := cfg.DeepCopy()
	if secrets, _ := cmd.Flags().GetBool("secrets"); !secrets {
		maskKeys(shown.Arrs.RadarrInstances)
		maskKeys(shown.Arrs.SonarrInstances)
	}

	data, err := yaml.Marshal(shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func maskKeys(instances []config.ArrInstance) {
	for i := range instances {
		if instances[i].APIKey != "" {
			instances[i].APIKey = "********"
		}
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	path := configFile
	if path == "" {
		path = config.DefaultConfigFilePath()
	}

	force, _ := cmd.Flags().GetBool("force")
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return err
	}
	if exists && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite it", path)
	}

	cfg := config.DefaultConfig()
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.Server.URL = server
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.SaveToFile(fs, cfg, path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
