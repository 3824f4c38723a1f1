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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshoverlay/node/internal/cryptoutil"
)

var (
	keygenBits   int
	keygenOutput string
	keygenDir    string
)

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate an RSA key pair for a node or user",
		Long: `Generate a new RSA key pair (OAEP/PSS-SHA256 capable).

Without --dir, the PEM-encoded private and public keys print to stdout.
With --dir, it behaves like a node's own bootstrap: load an existing
keypair from the directory, or create and persist one if none exists.`,
		Example: `  # One-off keypair to stdout
  meshctl keygen --bits 4096

  # Load-or-create a node's persistent keypair
  meshctl keygen --dir ./storage/keys`,
		RunE: runKeygen,
	}
	cmd.Flags().IntVarP(&keygenBits, "bits", "b", cryptoutil.DefaultKeyBits, "RSA modulus size in bits")
	cmd.Flags().StringVarP(&keygenOutput, "output", "o", "", "write private key PEM to this file instead of stdout")
	cmd.Flags().StringVarP(&keygenDir, "dir", "d", "", "load-or-create a persistent node keypair in this directory")
	return cmd
}

func init() {
	rootCmd.AddCommand(newKeygenCmd())
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if keygenDir != "" {
		priv, pub, err := cryptoutil.LoadOrCreateNodeKeyPair(keygenDir)
		if err != nil {
			return fmt.Errorf("load or create node keypair: %w", err)
		}
		pubPEM, err := cryptoutil.MarshalPublicKeyPEM(pub)
		if err != nil {
			return fmt.Errorf("marshal public key: %w", err)
		}
		fmt.Printf("node key ready in %s\n", keygenDir)
		fmt.Printf("modulus bits: %d\n", priv.N.BitLen())
		fmt.Printf("public key:\n%s\n", pubPEM)
		return nil
	}

	privPEM, pubPEM, err := cryptoutil.GenerateKeyPair(keygenBits)
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}

	if keygenOutput == "" {
		fmt.Print(string(privPEM))
		fmt.Print(string(pubPEM))
		return nil
	}
	if err := os.WriteFile(keygenOutput, privPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	fmt.Printf("private key written to %s\n", keygenOutput)
	fmt.Printf("public key:\n%s\n", pubPEM)
	return nil
}
