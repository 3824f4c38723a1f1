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
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/meshoverlay/node/client"
)

var usersURL string

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "list the users currently connected to a node",
		Long: `Connects to a mesh node as a throwaway reference user, issues
CMD_LIST, and prints the USER_LIST reply.`,
		Example: `  meshctl users --url ws://127.0.0.1:8765/mesh`,
		RunE:    runUsers,
	}
	cmd.Flags().StringVarP(&usersURL, "url", "u", "ws://127.0.0.1:8765/mesh", "node WebSocket URL")
	return cmd
}

func init() {
	rootCmd.AddCommand(newUsersCmd())
}

func runUsers(cmd *cobra.Command, args []string) error {
	c := client.New(usersURL, uuid.NewString(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", usersURL, err)
	}
	defer c.Close()

	// Let USER_HELLO settle before asking to be listed ourselves.
	time.Sleep(100 * time.Millisecond)
	if err := c.ListUsers(); err != nil {
		return fmt.Errorf("send CMD_LIST: %w", err)
	}

	select {
	case env, ok := <-c.UserLists:
		if !ok {
			return fmt.Errorf("connection closed before USER_LIST arrived")
		}
		users, _ := env.Payload["users"].([]any)
		fmt.Printf("%d user(s) connected:\n", len(users))
		for _, u := range users {
			fmt.Printf("  - %v\n", u)
		}
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for USER_LIST")
	}
}
