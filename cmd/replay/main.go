package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/photo-retrieval/internal/catalog"
	"github.com/danielpatrickdp/photo-retrieval/internal/config"
	"github.com/danielpatrickdp/photo-retrieval/internal/database"
	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/replay"
	"github.com/danielpatrickdp/photo-retrieval/internal/session"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
)

// #region main

func main() {
	rootCmd := &cobra.Command{
		Use:          "replay",
		Short:        "Replay fixtures or stored sessions and verify they reproduce",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("RETRIEVAL_CONFIG"), "path to YAML config")
	rootCmd.PersistentFlags().Bool("verbose", false, "print every round")

	rootCmd.AddCommand(fixtureCmd(), sessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region fixture-mode

func fixtureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fixture <file>...",
		Short: "Replay JSON fixtures and check their expectations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			failed := 0
			for _, path := range args {
				f, err := replay.LoadFixture(path)
				if err != nil {
					return err
				}
				run, err := replay.RunFixture(cmd.Context(), f)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if verbose {
					printRun(run)
				}
				if !report(path, f.Description, run.Summary, replay.Verify(f, run)) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d fixtures failed", failed, len(args))
			}
			return nil
		},
	}
}

// #endregion fixture-mode

// #region db-mode

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions [id]...",
		Short: "Replay stored sessions from the ledger and compare their rounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			last, _ := cmd.Flags().GetInt("last")
			verbose, _ := cmd.Flags().GetBool("verbose")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			r, err := openReplayer(cfg)
			if err != nil {
				return err
			}
			defer r.close()

			ctx := cmd.Context()
			ids := args
			if len(ids) == 0 {
				if ids, err = r.repo.List(ctx, last); err != nil {
					return err
				}
			}
			failed := 0
			for _, id := range ids {
				run, diffs, err := r.replay(ctx, id)
				if errors.Is(err, session.ErrArtifactChanged) {
					fmt.Printf("SKIP  %s  %v\n", id, err)
					continue
				}
				if err != nil {
					return err
				}
				if verbose {
					printRun(run)
				}
				if !report(id, "", run.Summary, diffs) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sessions did not reproduce", failed, len(ids))
			}
			return nil
		},
	}
	cmd.Flags().Int("last", 20, "replay the N most recent sessions when no id is given")
	return cmd
}

type replayer struct {
	db       interface{ Close() error }
	catalog  catalog.Reader
	repo     *session.SQLRepository
	ledger   *ledger.SQL
	matrices *matrix.Store
	registry *strategy.Registry
}

func openReplayer(cfg config.Config) (*replayer, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	r := &replayer{db: db}
	fail := func(err error) (*replayer, error) {
		db.Close()
		return nil, err
	}
	cat, err := catalog.NewSQL(db)
	if err != nil {
		return fail(err)
	}
	if r.repo, err = session.NewSQLRepository(db); err != nil {
		return fail(err)
	}
	if r.ledger, err = ledger.NewSQL(db); err != nil {
		return fail(err)
	}
	files, err := cfg.OpenStore()
	if err != nil {
		return fail(err)
	}
	if r.registry, err = strategy.NewRegistry(cfg.StrategyConfig()); err != nil {
		return fail(err)
	}
	r.catalog = cat
	r.matrices = matrix.NewStore(cat, files, zerolog.Nop())
	return r, nil
}

func (r *replayer) close() { r.db.Close() }

// replay reruns session id against a fresh ledger with its recorded answers.
func (r *replayer) replay(ctx context.Context, id string) (replay.Run, []string, error) {
	ret, err := r.repo.Get(ctx, id)
	if err != nil {
		return replay.Run{}, nil, err
	}
	recorded, err := r.ledger.History(ctx, id)
	if err != nil {
		return replay.Run{}, nil, err
	}
	kind, err := strategy.ParseKind(ret.Strategy)
	if err != nil {
		return replay.Run{}, nil, fmt.Errorf("session %s: %w", id, err)
	}
	strat, err := r.registry.Get(kind)
	if err != nil {
		return replay.Run{}, nil, err
	}
	// only the artifact the session ran on reproduces it
	dist, err := r.catalog.Distance(ctx, ret.Library, ret.Distance)
	if err != nil {
		return replay.Run{}, nil, fmt.Errorf("session %s: %w", id, err)
	}
	if ret.Artifact != "" && dist.Identity() != ret.Artifact {
		return replay.Run{}, nil, fmt.Errorf("session %s ran on %s, catalog has %s: %w",
			id, ret.Artifact, dist.Identity(), session.ErrArtifactChanged)
	}
	m, err := r.matrices.Get(ctx, ret.Library, dist)
	if err != nil {
		return replay.Run{}, nil, fmt.Errorf("session %s: %w", id, err)
	}
	if len(recorded) == 0 {
		return replay.Run{Summary: replay.Summary{Status: ret.Status}}, nil, nil
	}
	run, err := replay.Replay(ctx, ret, strat, m, replay.FromHistory(recorded))
	if err != nil {
		return run, nil, fmt.Errorf("session %s: %w", id, err)
	}
	diffs := replay.Compare(recorded, run)
	if ret.Status != session.StatusAborted && run.Summary.Status != ret.Status {
		diffs = append(diffs, fmt.Sprintf("status: recorded %s, replayed %s", ret.Status, run.Summary.Status))
	}
	return run, diffs, nil
}

// #endregion db-mode

// #region output

func report(name, desc string, sum replay.Summary, diffs []string) bool {
	label := name
	if desc != "" {
		label += " (" + desc + ")"
	}
	if len(diffs) == 0 {
		fmt.Printf("PASS  %s  status=%s rounds=%d target=%s\n", label, sum.Status, sum.Rounds, orDash(sum.Target))
		return true
	}
	fmt.Printf("FAIL  %s\n", label)
	for _, d := range diffs {
		fmt.Printf("      %s\n", d)
	}
	return false
}

func printRun(run replay.Run) {
	for _, res := range run.Results {
		fmt.Printf("  round %-3d  answer=%-10s remaining=%-5d status=%-9s options=%s\n",
			res.Round, orDash(res.Answer), res.Remaining, res.Status, strings.Join(res.Options, " "))
	}
	if run.Summary.Estimate != "" {
		fmt.Printf("  estimate   %s\n", run.Summary.Estimate)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// #endregion output
