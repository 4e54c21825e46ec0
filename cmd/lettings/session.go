package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Long:  `Signs in with username and password. The password is read from --password, LETTINGS_PASSWORD or the first line of stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if username == "" {
				username = a.cfg.Auth.Username
			}
			if username == "" {
				return errors.New("a username is required (--username or auth.username)")
			}
			if password == "" {
				password = os.Getenv("LETTINGS_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			if _, err := a.auth.Login(ctx, username, password, ""); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Logged in as %s\n", username)

			target, err := a.auth.TakePostLoginRedirect(ctx)
			if err != nil {
				return err
			}
			if target != "" {
				fmt.Fprintf(out, "Your last session ended during: %s\n", target)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			sess, err := a.auth.Session(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "API:     %s\n", a.cfg.API.BaseURL)
			fmt.Fprintf(out, "Store:   %s\n", a.cfg.Store.Kind)
			if !sess.Valid() {
				fmt.Fprintln(out, "Session: not logged in")
				return nil
			}
			fmt.Fprintln(out, "Session: logged in")
			if !sess.ExpiresAt.IsZero() {
				left := time.Until(sess.ExpiresAt).Round(time.Second)
				if left > 0 {
					fmt.Fprintf(out, "Access:  expires in %s\n", left)
				} else {
					fmt.Fprintln(out, "Access:  expired, refreshed on next request")
				}
			}
			return nil
		},
	}
}
