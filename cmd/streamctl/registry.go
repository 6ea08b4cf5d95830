package main

import (
	"errors"
	"fmt"

	"streamrelay/internal/core/domain"

	"github.com/spf13/cobra"
)

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <stable-id> <network-id>",
		Short: "Point a stable identity at a network identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			if err := registry.Register(cmd.Context(), domain.StableID(args[0]), domain.NetworkID(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

func newLookupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <stable-id>",
		Short: "Resolve a stable identity to its current network identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			networkID, err := registry.Lookup(cmd.Context(), domain.StableID(args[0]))
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%s is not registered", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), networkID)
			return nil
		},
	}
}
