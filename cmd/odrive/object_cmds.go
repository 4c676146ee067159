package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"odrive/pkg/client"
	"odrive/pkg/protocol"
)

// defaultACM is applied when a create command names no marking file:
// unclassified, releasable by default policy.
const defaultACM = `{"version":"2.1.0","classif":"U","banner":"UNCLASSIFIED","portion":"U"}`

func mkdirCmd() *cobra.Command {
	var (
		parentID string
		acmFile  string
	)

	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawACM, err := loadACM(acmFile)
			if err != nil {
				return err
			}

			c := client.New(serverURL, userDN)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			obj, err := c.Create(ctx, protocol.CreateObjectRequest{
				TypeName: "Folder",
				Name:     args[0],
				ParentID: parentID,
				ACM:      rawACM,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created folder %s (%s)\n", obj.Name, obj.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&parentID, "parent", "", "parent folder id (empty for root)")
	cmd.Flags().StringVar(&acmFile, "acm", "", "path to a JSON marking document")
	return cmd
}

func rmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Move an object to the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, userDN)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			// Fetch first: trash needs the current change token.
			obj, err := c.Get(ctx, args[0])
			if err != nil {
				return err
			}
			trashed, err := c.Trash(ctx, obj.ID, obj.ChangeToken)
			if err != nil {
				return err
			}
			fmt.Printf("trashed %s (%s)\n", trashed.Name, trashed.ID)
			return nil
		},
	}
	return cmd
}

func restoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Bring a trashed object back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, userDN)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			// The trashed listing is the only view that still shows the
			// object, so the current token comes from there.
			rs, err := c.ListTrashed(ctx)
			if err != nil {
				return err
			}
			for _, obj := range rs.Objects {
				if obj.ID != args[0] {
					continue
				}
				restored, err := c.Restore(ctx, obj.ID, obj.ChangeToken)
				if err != nil {
					return err
				}
				fmt.Printf("restored %s (%s)\n", restored.Name, restored.ID)
				return nil
			}
			return fmt.Errorf("object %s not found in trash", args[0])
		},
	}
	return cmd
}

func trashedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trashed",
		Short: "List my trashed objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, userDN)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			rs, err := c.ListTrashed(ctx)
			if err != nil {
				return err
			}
			for _, obj := range rs.Objects {
				printObject(obj)
			}
			return nil
		},
	}
	return cmd
}

func mvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv <id> <new-parent-id>",
		Short: "Move an object into another folder ('' for root)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, userDN)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			obj, err := c.Get(ctx, args[0])
			if err != nil {
				return err
			}
			moved, err := c.Move(ctx, obj.ID, obj.ChangeToken, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("moved %s under %q\n", moved.Name, moved.ParentID)
			return nil
		},
	}
	return cmd
}

func loadACM(path string) (json.RawMessage, error) {
	if path == "" {
		return json.RawMessage(defaultACM), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read acm file: %w", err)
	}
	return json.RawMessage(data), nil
}
