package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-portal/core/message"
)

const timeFormat = "2006-01-02 15:04"

func (cli *commandLine) inboxCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List received messages, unread ones flagged with *",
		Args:  cobra.NoArgs,
		RunE: cli.withApp(func(ctx context.Context, a *app, _ []string) error {
			var (
				msgs []message.Message
				err  error
			)
			if refresh {
				msgs, err = a.svc.RefreshMessages(ctx)
			} else {
				msgs, err = a.svc.Messages(ctx)
			}
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				cli.printf("no messages\n")
				return nil
			}
			for _, msg := range msgs {
				flag := " "
				if !msg.Read {
					flag = "*"
				}
				cli.printf("%s #%d  %s  %s: %s\n", flag, msg.ID, msg.SentAt.Local().Format(timeFormat), msg.SenderName, msg.Content)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Announce the refreshed list")
	return cmd
}

func (cli *commandLine) readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read MESSAGE_ID",
		Short: "Open a message, marking it as read",
		Args:  cobra.ExactArgs(1),
		RunE: cli.withApp(func(ctx context.Context, a *app, args []string) error {
			msg, err := findMessage(ctx, a, args[0])
			if err != nil {
				return err
			}
			if msg, err = a.svc.MarkRead(ctx, msg); err != nil {
				return err
			}
			cli.printf("From: %s (#%d)\nDate: %s\n\n%s\n", msg.SenderName, msg.SenderID, msg.SentAt.Local().Format(timeFormat), msg.Content)
			return nil
		}),
	}
}

func (cli *commandLine) sendCmd() *cobra.Command {
	var to int64
	cmd := &cobra.Command{
		Use:   "send --to MEMBER_ID MESSAGE...",
		Short: "Send a message to a member",
		RunE: cli.withApp(func(ctx context.Context, a *app, args []string) error {
			return a.svc.Send(ctx, message.Draft{ReceiverID: to, Content: strings.Join(args, " ")})
		}),
	}
	cmd.Flags().Int64Var(&to, "to", 0, "The recipient's member id")
	return cmd
}

func (cli *commandLine) replyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reply MESSAGE_ID MESSAGE...",
		Short: "Reply to the sender of a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: cli.withApp(func(ctx context.Context, a *app, args []string) error {
			msg, err := findMessage(ctx, a, args[0])
			if err != nil {
				return err
			}
			return a.svc.Reply(ctx, msg, strings.Join(args[1:], " "))
		}),
	}
}

func (cli *commandLine) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Search members by name or email",
		Args:  cobra.MinimumNArgs(1),
		RunE: cli.withApp(func(ctx context.Context, a *app, args []string) error {
			mbrs, err := a.svc.SearchMembers(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(mbrs) == 0 {
				cli.printf("no members found\n")
				return nil
			}
			for _, mbr := range mbrs {
				cli.printf("#%d  %s <%s>\n", mbr.ID, mbr.Name, mbr.Email)
			}
			return nil
		}),
	}
}
