package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"odrive/pkg/client"
	"odrive/pkg/protocol"
)

var (
	folderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7571f9"))
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c757d"))
	trashedStyle = lipgloss.NewStyle().Strikethrough(true).Foreground(lipgloss.Color("#6c757d"))
)

func lsCmd() *cobra.Command {
	var (
		parentID   string
		pageNumber int
		pageSize   int
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List objects at the root or under a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, userDN)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			rs, err := c.List(ctx, parentID, pageNumber, pageSize)
			if err != nil {
				return err
			}

			for _, obj := range rs.Objects {
				printObject(obj)
			}
			fmt.Println(detailStyle.Render(fmt.Sprintf("page %d: %d of %d item(s)",
				rs.PageNumber, rs.PageRows, rs.TotalRows)))
			return nil
		},
	}

	cmd.Flags().StringVar(&parentID, "parent", "", "folder id to list (empty for root)")
	cmd.Flags().IntVar(&pageNumber, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 100, "page size")
	return cmd
}

func sharesCmd() *cobra.Command {
	var byMe bool

	cmd := &cobra.Command{
		Use:   "shares",
		Short: "List objects shared with me (or by me)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, userDN)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var rs *protocol.ObjectResultset
			var err error
			if byMe {
				rs, err = c.SharedByMe(ctx)
			} else {
				rs, err = c.SharedWithMe(ctx)
			}
			if err != nil {
				return err
			}
			for _, obj := range rs.Objects {
				printObject(obj)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&byMe, "by-me", false, "show objects I shared instead")
	return cmd
}

func printObject(obj protocol.ObjectResponse) {
	style := nameStyle
	marker := "  "
	if obj.TypeName == "Folder" {
		style = folderStyle
		marker = "d "
	}
	if obj.Deleted {
		style = trashedStyle
	}
	fmt.Printf("%s%s  %s\n",
		marker,
		style.Render(obj.Name),
		detailStyle.Render(fmt.Sprintf("%s  %d bytes  %s",
			obj.ID, obj.ContentSize, obj.ModifiedDate.Format(time.RFC3339))))
}
