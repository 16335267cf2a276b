package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/voicechat/internal/core"
	"github.com/vovakirdan/voicechat/internal/proto"
)

func newRoomsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(flags, true)
			if err != nil {
				return err
			}
			rooms, err := e.client.Rooms(cmd.Context())
			if err != nil {
				return err
			}
			list := core.NewRoomList()
			list.Replace(rooms)
			printRooms(cmd.OutOrStdout(), list.All())
			return nil
		},
	}
}

func newDMCmd(flags *globalFlags) *cobra.Command {
	var (
		name  string
		group bool
	)
	cmd := &cobra.Command{
		Use:   "dm <username>...",
		Short: "Open a direct conversation, or a group with --group",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(flags, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ids := make([]string, 0, len(args))
			for _, username := range args {
				users, err := e.client.SearchUsers(ctx, username)
				if err != nil {
					return err
				}
				id := ""
				for _, u := range users {
					if u.Username == username {
						id = u.ID
						break
					}
				}
				if id == "" {
					return fmt.Errorf("user %q not found", username)
				}
				ids = append(ids, id)
			}
			room, err := e.client.CreateRoom(ctx, proto.CreateRoomRequest{Name: name, IsGroup: group, MemberIDs: ids})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", room.ID, room.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "group name")
	cmd.Flags().BoolVar(&group, "group", false, "create a group conversation")
	return cmd
}

func printRooms(w io.Writer, rooms []proto.Room) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}
	for _, r := range rooms {
		preview := core.Preview(r.LastMessage)
		if preview == "" {
			preview = "-"
		}
		fmt.Fprintf(w, "%s  %-20s  %s\n", r.ID, r.Name, preview)
	}
}
