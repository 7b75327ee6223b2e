// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// profiles.go - Model profile commands.
//
// Command: profiles
// Aliases: profile, models
//
// Subcommands:
//   list [--keys]     List profiles; * marks the active one
//   use <ref>         Make a profile active (id, position or name)
//   test              Check the active profile through the backend
//
// API keys are never printed in full.

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

func newProfilesCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"profile", "models"},
		Short:   "List, switch and test model profiles",
	}

	var showKeys bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List model profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(g, func(a *app) error {
				profiles, err := a.client.ListProfiles(cmd.Context())
				if err != nil {
					return err
				}
				printProfiles(cmd.OutOrStdout(), profiles, showKeys)
				return nil
			})
		},
	}
	list.Flags().BoolVar(&showKeys, "keys", false, "Show masked API keys and base URLs")

	use := &cobra.Command{
		Use:   "use <ref>",
		Short: "Make a profile the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(g, func(a *app) error {
				p, err := resolveProfile(cmd.Context(), a.client, args[0])
				if err != nil {
					return err
				}
				if err := a.client.ActivateProfile(cmd.Context(), p.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", SuccessStyle.Render("Using"), p.Name, DimStyle.Render(p.Model))
				return nil
			})
		},
	}

	test := &cobra.Command{
		Use:   "test",
		Short: "Check that the active profile answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(g, func(a *app) error {
				status, err := a.client.TestConnection(cmd.Context())
				if err != nil {
					return err
				}
				if !status.OK() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderStatus("fail"), status.Message)
					return errors.New("connection test failed")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderStatus("ok"), status.Message)
				return nil
			})
		},
	}

	cmd.AddCommand(list, use, test)
	return cmd
}

// withClient runs fn with a loaded app environment.
func withClient(g *globalOptions, fn func(*app) error) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func resolveProfile(ctx context.Context, client *backend.Client, ref string) (model.Profile, error) {
	profiles, err := client.ListProfiles(ctx)
	if err != nil {
		return model.Profile{}, err
	}
	p, ok := findProfile(profiles, ref)
	if !ok {
		return model.Profile{}, errNotFound("profile", ref)
	}
	return p, nil
}
