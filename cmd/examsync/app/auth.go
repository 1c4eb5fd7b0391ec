package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/examsight/examsync/internal/auth"
)

func (c *cli) loginCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the access token used for API requests",
		Long: `Store the access token used for API requests. Without --token the token
is read from the terminal without echo, or from the first line of standard
input when it is not a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				read, err := readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				token = read
			}
			token = strings.TrimSpace(token)

			if auth.Expired(token, time.Now()) {
				return fmt.Errorf("%w: the given token has already expired", auth.ErrTokenExpired)
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			session, err := c.newSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeSession(session)

			if err := session.Tokens().Save(cmd.Context(), token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			msg := "Logged in"
			if exp, ok := auth.ExpiresAt(token); ok {
				msg = fmt.Sprintf("Logged in, token expires %s", exp.Local().Format(time.RFC1123))
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Access token")
	return cmd
}

// readToken reads the token from a terminal without echo, or the first line of in
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Access token: ")
		tokenBytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		if len(tokenBytes) == 0 {
			return "", fmt.Errorf("token cannot be empty")
		}
		return string(tokenBytes), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read token from stdin: %w", err)
	}
	return line, nil
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			session, err := c.newSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeSession(session)

			if err := session.Engine().Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
