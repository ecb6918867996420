// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Command cmdbot runs the WhatsApp command bot.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type flags struct {
	envFile        string
	usePairingCode bool
	phone          string
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "cmdbot",
		Short:         "WhatsApp bot with menus, group administration and stickers",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "load environment variables from this file (default .env if it exists)")
	cmd.Flags().BoolVar(&f.usePairingCode, "use-pairing-code", false, "link the device with a pairing code instead of a QR code")
	cmd.Flags().StringVar(&f.phone, "phone", "", "phone number with country code for --use-pairing-code (prompted if empty)")
	return cmd
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
