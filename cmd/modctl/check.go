package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nosurfing/moderation/internal/app"
	"github.com/nosurfing/moderation/internal/database"
	"github.com/nosurfing/moderation/internal/messaging"
	"github.com/nosurfing/moderation/internal/moderation"
)

const checkTimeout = 10 * time.Second

// errSkipped marks a probe for an optional dependency that is not configured.
var errSkipped = errors.New("not configured")

type probe struct {
	name string
	run  func(ctx context.Context) error
}

// runProbes runs every probe and writes one line per probe. It returns the
// number of failures. Multi-line errors are folded onto their probe's line.
func runProbes(ctx context.Context, out io.Writer, probes []probe) int {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	failed := 0
	for _, p := range probes {
		err := p.run(ctx)
		if errors.Is(err, errSkipped) {
			fmt.Fprintf(tw, "%s\tskipped\t%s\n", p.name, oneLine(err))
			continue
		}
		if err != nil {
			failed++
			fmt.Fprintf(tw, "%s\tFAIL\t%s\n", p.name, oneLine(err))
			continue
		}
		fmt.Fprintf(tw, "%s\tok\t\n", p.name)
	}
	return failed
}

func oneLine(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}

func newCheckCommand() *cobra.Command {
	var sample string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify connectivity to every dependency and screen a sample text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := loadDeps()
			if err != nil {
				return err
			}
			cfg := deps.cfg

			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()

			probes := []probe{
				{"redis", func(ctx context.Context) error {
					rdb, err := app.NewRedis(ctx, cfg.Redis)
					if err != nil {
						return err
					}
					return rdb.Close()
				}},
				{"postgres", func(ctx context.Context) error {
					if cfg.Postgres.DSN == "" {
						return fmt.Errorf("no dsn: %w", errSkipped)
					}
					db, err := database.Open(ctx, cfg.Postgres)
					if err != nil {
						return err
					}
					defer db.Close()
					version, dirty, err := database.MigrationVersion(cfg.Postgres.DSN, deps.log)
					if err != nil {
						return err
					}
					if dirty {
						return fmt.Errorf("schema version %d is dirty", version)
					}
					return nil
				}},
				{"nats", func(context.Context) error {
					natsCfg := messaging.DefaultNATSConfig()
					natsCfg.URL = cfg.NATS.URL
					natsCfg.Name = "modctl"
					nc, err := messaging.NewNATSClient(natsCfg, deps.log)
					if err != nil {
						return err
					}
					nc.Close()
					return nil
				}},
				{"classifier", func(ctx context.Context) error {
					c := app.NewClassifier(cfg.Classifier)
					if c == nil {
						return fmt.Errorf("no api key: %w", errSkipped)
					}
					return c.Health(ctx)
				}},
			}
			if sample != "" {
				probes = append(probes, probe{"sample", func(ctx context.Context) error {
					mod, err := app.NewModerator(cfg, deps.log)
					if err != nil {
						return err
					}
					res := mod.Moderate(ctx, moderation.ModerationRequest{Text: sample, Type: moderation.ContentGeneral})
					fmt.Fprintf(cmd.OutOrStdout(), "sample: approved=%t confidence=%.2f reasons=%v\n",
						res.IsApproved, res.Confidence, res.Reasons)
					return nil
				}})
			}

			if failed := runProbes(ctx, cmd.OutOrStdout(), probes); failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sample, "sample", "", "text to run through the moderation pipeline")
	return cmd
}
