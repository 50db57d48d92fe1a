package main

import (
	"context"

	"github.com/spf13/cobra"
)

func (cli *commandLine) roomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List chat rooms and pending invitations",
		Args:  cobra.NoArgs,
		RunE: cli.withApp(func(ctx context.Context, a *app, _ []string) error {
			rooms, err := a.svc.ChatRooms(ctx)
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				cli.printf("no chat rooms\n")
				return nil
			}
			for _, room := range rooms {
				if room.IsPending() {
					cli.printf("invitation #%d  %s (by %s)\n", room.InvitationID, room.Name, room.OwnerName)
					continue
				}
				cli.printf("room #%d  %s (by %s)\n", room.ID, room.Name, room.OwnerName)
			}
			return nil
		}),
	}
}

func (cli *commandLine) joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join INVITATION_ID",
		Short: "Accept a chat invitation",
		Args:  cobra.ExactArgs(1),
		RunE: cli.withApp(func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err = a.svc.JoinInvitation(ctx, id); err != nil {
				return err
			}
			cli.printf("pending invitations: %d\n", a.counters.Invitations())
			return nil
		}),
	}
}
