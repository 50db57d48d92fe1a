package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-portal/core/member"
)

const version = "0.1.0"

func (cli *commandLine) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			cli.printf("masomo %s (build: %s)\n", version, cli.conf.Build)
		},
	}
}

func (cli *commandLine) loginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login --email EMAIL",
		Short: "Sign in; the password is prompted",
		Args:  cobra.NoArgs,
		RunE: cli.withApp(func(ctx context.Context, a *app, _ []string) error {
			pwd, err := promptPassword(cli.out, "Password: ")
			if err != nil {
				return err
			}
			ident, err := a.svc.Login(ctx, member.Credentials{Email: email, Password: pwd})
			if err != nil {
				return err
			}
			snap := a.counters.Snapshot()
			cli.printf("signed in as %s (#%d)\n", ident.Name, ident.ID)
			cli.printf("unread messages: %d, pending invitations: %d\n", snap.Unread, snap.Invitations)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "The member's email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (cli *commandLine) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the local state",
		Args:  cobra.NoArgs,
		RunE: cli.withApp(func(ctx context.Context, a *app, _ []string) error {
			if err := a.svc.Logout(ctx); err != nil {
				return err
			}
			cli.printf("signed out\n")
			return nil
		}),
	}
}

func (cli *commandLine) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in member and counters",
		Args:  cobra.NoArgs,
		RunE: cli.withApp(func(_ context.Context, a *app, _ []string) error {
			ident, ok := a.session.Identity()
			if !ok {
				cli.printf("not signed in\n")
				return nil
			}
			cli.printf("%s <%s> (#%d)\n", ident.Name, ident.Email, ident.ID)
			if ident.IsAdmin() {
				cli.printf("roles: %s\n", strings.Join(ident.Roles, ", "))
			}
			snap := a.counters.Snapshot()
			cli.printf("unread messages: %d, pending invitations: %d\n", snap.Unread, snap.Invitations)
			return nil
		}),
	}
}

func (cli *commandLine) registerCmd() *cobra.Command {
	var nm member.NewMember
	cmd := &cobra.Command{
		Use:   "register --name NAME --email EMAIL",
		Short: "Create a member account; the password is prompted twice",
		Args:  cobra.NoArgs,
		RunE: cli.withApp(func(ctx context.Context, a *app, _ []string) error {
			var err error
			if nm.Password, err = promptPassword(cli.out, "Password: "); err != nil {
				return err
			}
			if nm.PasswordConfirm, err = promptPassword(cli.out, "Confirm password: "); err != nil {
				return err
			}
			if err = a.svc.Register(ctx, nm); err != nil {
				return err
			}
			cli.printf("account created for %s, you can now sign in\n", nm.Email)
			return nil
		}),
	}
	cmd.Flags().StringVar(&nm.Name, "name", "", "Full name")
	cmd.Flags().StringVar(&nm.Email, "email", "", "Email, used to sign in")
	cmd.Flags().StringVar(&nm.Phone, "phone", "", "Phone number (optional)")
	cmd.Flags().StringVar(&nm.Address, "address", "", "Address (optional)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
