package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"odrive/pkg/client"
	"odrive/pkg/protocol"
	"odrive/pkg/types"
)

func shareCmd() *cobra.Command {
	var (
		allowCreate bool
		allowRead   bool
		allowUpdate bool
		allowDelete bool
		allowShare  bool
		propagate   bool
	)

	cmd := &cobra.Command{
		Use:   "share <id> <grantee-dn>",
		Short: "Grant a principal access to an object",
		Long: `Grants default to read-only; broader flags must be named explicitly.
With --propagate the grant covers every current and future descendant of a
folder until revoked.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, userDN)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			req := protocol.ShareRequest{
				Grantee:             args[1],
				PropagateToChildren: propagate,
			}
			if allowCreate || allowRead || allowUpdate || allowDelete || allowShare {
				req.Flags = &types.PermissionFlags{
					Create: allowCreate,
					Read:   allowRead,
					Update: allowUpdate,
					Delete: allowDelete,
					Share:  allowShare,
				}
			}

			g, err := c.Share(ctx, args[0], req)
			if err != nil {
				return err
			}
			fmt.Printf("shared %s with %s (propagate=%v)\n", g.ObjectID, g.Grantee, g.PropagateToChildren)
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowCreate, "create", false, "allow creating children")
	cmd.Flags().BoolVar(&allowRead, "read", false, "allow reading")
	cmd.Flags().BoolVar(&allowUpdate, "update", false, "allow updating")
	cmd.Flags().BoolVar(&allowDelete, "delete", false, "allow trashing")
	cmd.Flags().BoolVar(&allowShare, "share", false, "allow re-sharing")
	cmd.Flags().BoolVar(&propagate, "propagate", false, "apply to all descendants")
	return cmd
}

func unshareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unshare <id> <grantee-dn>",
		Short: "Revoke a principal's grant on an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, userDN)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := c.RevokeShare(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("revoked %s on %s\n", args[1], args[0])
			return nil
		},
	}
	return cmd
}
