// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Command meshctl is the mesh node's operator CLI: key management and
// ad hoc inspection of a running node from the outside (as a user would
// see it), not a replacement for the node's own config surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshoverlay/node/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "meshctl",
	Short: "meshctl - key management and inspection for the mesh overlay node",
	Long: `meshctl provides operator tooling for the mesh overlay router:

- key management (generate, inspect)
- connecting as a reference user to list who is online on a node`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print meshctl and meshnode version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			version.PrintVersion()
			return nil
		},
	}
}
