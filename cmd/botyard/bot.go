package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/botyard/internal/db"
	"github.com/zulandar/botyard/internal/fleet"
	"github.com/zulandar/botyard/internal/resource"
	"golang.org/x/term"
)

func newBotCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Manage registered chat bots",
	}
	cmd.AddCommand(newBotListCmd(opts))
	cmd.AddCommand(newBotRegisterCmd(opts))
	return cmd
}

func newBotListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			gormDB, err := db.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close(gormDB)
			mgr, err := newManager(cfg, gormDB, log.Logger)
			if err != nil {
				return err
			}
			bots, err := mgr.Bots(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(bots) == 0 {
				fmt.Fprintln(out, "No bots registered.")
				return nil
			}
			registrar := resource.NewRegistrar(gormDB, log.Logger)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tPLATFORM\tRESOURCES\tCREATED")
			for _, b := range bots {
				n, err := registrar.Count(cmd.Context(), b.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t@%s\t%s\t%s\t%d\t%s\n", b.ID, b.Username, b.Name, b.Platform, n, b.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newBotRegisterCmd(opts *rootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a bot by token",
		Long:  "Validates the token with the chat platform and stores the bot. A running daemon starts it on its next reconcile.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if token == "" {
				token, err = readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}
			gormDB, err := db.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close(gormDB)
			mgr, err := newManager(cfg, gormDB, log.Logger)
			if err != nil {
				return err
			}

			bot, err := mgr.Register(cmd.Context(), token)
			switch {
			case errors.Is(err, fleet.ErrInvalidCredential):
				return errors.New("the platform rejected this token")
			case errors.Is(err, fleet.ErrDuplicateUsername):
				return errors.New("a bot with this username is already registered")
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered @%s (id %d)\n", bot.Username, bot.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bot token (prompted for when omitted)")
	return cmd
}

// readToken prompts for a token without echo on a terminal, or reads one
// line from in otherwise.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Bot token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", errors.Wrap(err, "read token")
		}
		return requireToken(string(b))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "read token")
	}
	return requireToken(line)
}

func requireToken(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("no token given")
	}
	return s, nil
}
