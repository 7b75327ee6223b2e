// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Configuration commands.
//
// Command: config
//
// Subcommands:
//   show              Print the effective configuration (file + env)
//   init [--force]    Write a default config file
//   path              Print the config file path
//   get <key>         Print one value, e.g. "chat.temperature"
//   set <key> <value> Change one value in the config file
//   keys              List every key

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lifedash-tui/internal/config"
)

func newConfigCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration",
		Long: `Show and edit the lifedash configuration.

The file lives at ~/.lifedash/config.toml (LIFEDASH_HOME changes the
directory). LIFEDASH_* environment variables override file values.`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := g.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("# "+path))
			fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := g.editPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &UsageError{Field: "config", Value: path, Reason: "file already exists", Example: "lifedash config init --force"}
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render("Wrote"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := g.editPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return &UsageError{Field: "key", Value: args[0], Reason: err.Error(), Example: "lifedash config get backend.url"}
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one value in the config file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := g.editPath()
			if err != nil {
				return err
			}
			value := strings.Join(args[1:], " ")
			if err := setConfigValue(path, args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", SuccessStyle.Render("Set"), args[0], value)
			return nil
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List every configuration key",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, k := range config.Keys() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
		},
	}

	cmd.AddCommand(show, initCmd, pathCmd, get, set, keys)
	return cmd
}

// editPath is the file config init/set write: --config when it names a
// TOML file, otherwise the default path.
func (g *globalOptions) editPath() (string, error) {
	if g.configPath != "" {
		ext := strings.ToLower(filepath.Ext(g.configPath))
		if ext == ".yaml" || ext == ".yml" || ext == ".json" {
			return "", &UsageError{Field: "config", Value: g.configPath, Reason: "only TOML files can be written"}
		}
		return g.configPath, nil
	}
	return config.ConfigPathTOML()
}

// setConfigValue changes key in the file at path, creating it from the
// defaults when missing. The result must validate before it is written.
func setConfigValue(path, key, value string) error {
	cfg, err := config.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Field: "key", Value: key, Reason: err.Error(), Example: "lifedash config set chat.temperature 0.3"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.SaveTOML(cfg, path)
}
