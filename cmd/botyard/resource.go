package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/botyard/internal/db"
	"github.com/zulandar/botyard/internal/models"
	"github.com/zulandar/botyard/internal/resource"
	"gorm.io/gorm"
)

func newResourceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Inspect bot resources",
	}
	cmd.AddCommand(newResourceListCmd(opts))
	return cmd
}

func newResourceListCmd(opts *rootOptions) *cobra.Command {
	var botRef string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the resources of a bot",
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
			bot, err := findBot(gormDB, botRef)
			if err != nil {
				return err
			}

			registrar := resource.NewRegistrar(gormDB, log.Logger)
			resources, err := registrar.List(cmd.Context(), bot.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resources) == 0 {
				fmt.Fprintf(out, "@%s has no resources.\n", bot.Username)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCHUNKS\tCREATED")
			for _, r := range resources {
				ids, err := registrar.Documents(cmd.Context(), r.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", r.ID, r.Name, len(ids), r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&botRef, "bot", "", "bot id or @username (required)")
	cmd.MarkFlagRequired("bot")
	return cmd
}

// findBot resolves a numeric id or a username, with or without the leading @.
func findBot(gormDB *gorm.DB, ref string) (*models.Bot, error) {
	var bot models.Bot
	q := gormDB
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("username = ?", strings.TrimPrefix(ref, "@"))
	}
	if err := q.First(&bot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Errorf("bot %q not found", ref)
		}
		return nil, errors.Wrap(err, "find bot")
	}
	return &bot, nil
}
