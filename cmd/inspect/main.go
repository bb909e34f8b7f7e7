package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/photo-retrieval/internal/config"
	"github.com/danielpatrickdp/photo-retrieval/internal/database"
	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/logging"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/session"
)

// #region main

func main() {
	rootCmd := &cobra.Command{
		Use:          "inspect",
		Short:        "Inspect distance matrix artifacts and stored retrieval sessions",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("RETRIEVAL_CONFIG"), "path to YAML config")
	rootCmd.PersistentFlags().String("db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "output as JSON instead of table")

	rootCmd.AddCommand(matrixCmd(), sessionsCmd(), sessionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region matrix-mode

type matrixReport struct {
	Identity     string      `json:"identity"`
	Photos       int         `json:"photos"`
	MaxAsymmetry float64     `json:"max_asymmetry"`
	NonZeroDiag  int         `json:"non_zero_diagonal"`
	MeanDistance float64     `json:"mean_distance"`
	MaxDistance  float64     `json:"max_distance"`
	Photo        string      `json:"photo,omitempty"`
	Nearest      []neighbour `json:"nearest,omitempty"`
}

type neighbour struct {
	Photo    string  `json:"photo"`
	Distance float64 `json:"distance"`
}

func matrixCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix <file>",
		Short: "Validate a matrix artifact and show its shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			photo, _ := cmd.Flags().GetString("photo")
			top, _ := cmd.Flags().GetInt("top")
			jsonOut, _ := cmd.Flags().GetBool("json")

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			m, err := matrix.Parse(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			rep, err := reportMatrix(m, photo, top)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(rep)
			}
			printMatrixReport(rep)
			return nil
		},
	}
	cmd.Flags().String("photo", "", "show the nearest photos to this one")
	cmd.Flags().Int("top", 10, "number of neighbours to show")
	return cmd
}

func reportMatrix(m *matrix.Matrix, photo string, top int) (matrixReport, error) {
	n := m.Len()
	rep := matrixReport{Identity: m.Identity(), Photos: n}
	all := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		if m.At(i, i) != 0 {
			rep.NonZeroDiag++
		}
		for j := 0; j < n; j++ {
			all = append(all, m.At(i, j))
			if d := math.Abs(m.At(i, j) - m.At(j, i)); d > rep.MaxAsymmetry {
				rep.MaxAsymmetry = d
			}
		}
	}
	if len(all) > 0 {
		rep.MeanDistance = stat.Mean(all, nil)
		rep.MaxDistance = floats.Max(all)
	}

	if photo == "" {
		return rep, nil
	}
	row, err := m.Row(photo)
	if err != nil {
		return rep, err
	}
	row = slices.DeleteFunc(row, func(e matrix.Entry) bool { return e.Photo == photo })
	slices.SortStableFunc(row, func(a, b matrix.Entry) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	rep.Photo = photo
	for _, e := range row[:min(top, len(row))] {
		rep.Nearest = append(rep.Nearest, neighbour{Photo: e.Photo, Distance: e.Distance})
	}
	return rep, nil
}

func printMatrixReport(rep matrixReport) {
	fmt.Printf("Identity:      %s\n", rep.Identity)
	fmt.Printf("Photos:        %d\n", rep.Photos)
	fmt.Printf("Mean distance: %.4f\n", rep.MeanDistance)
	fmt.Printf("Max distance:  %.4f\n", rep.MaxDistance)
	fmt.Printf("Asymmetry:     %.4f\n", rep.MaxAsymmetry)
	fmt.Printf("Diagonal != 0: %d\n", rep.NonZeroDiag)
	if rep.Photo == "" {
		return
	}
	fmt.Printf("\nNearest to %s:\n", rep.Photo)
	for i, nb := range rep.Nearest {
		fmt.Printf("  %3d  %-24s %.4f\n", i+1, nb.Photo, nb.Distance)
	}
}

// #endregion matrix-mode

// #region list-mode

type listRow struct {
	ID        string `json:"id"`
	User      string `json:"user,omitempty"`
	Library   string `json:"library"`
	Strategy  string `json:"strategy"`
	Status    string `json:"status"`
	Round     int    `json:"round"`
	Max       int    `json:"max_iteration"`
	Target    string `json:"target,omitempty"`
	CreatedAt string `json:"created_at"`
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the most recent retrieval sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			last, _ := cmd.Flags().GetInt("last")
			jsonOut, _ := cmd.Flags().GetBool("json")
			st, err := openStores(cmd)
			if err != nil {
				return err
			}
			defer st.close()

			ctx := cmd.Context()
			ids, err := st.repo.List(ctx, last)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(os.Stderr, "no sessions found")
				return nil
			}
			rows := make([]listRow, 0, len(ids))
			for _, id := range ids {
				r, err := st.repo.Get(ctx, id)
				if err != nil {
					return err
				}
				rows = append(rows, listRow{
					ID:        r.ID,
					User:      r.UserID,
					Library:   r.Library + "/" + r.Distance,
					Strategy:  r.Strategy,
					Status:    string(r.Status),
					Round:     r.IteratorPointer,
					Max:       r.MaxIteration,
					Target:    r.Target,
					CreatedAt: r.CreatedAt.Format(time.RFC3339),
				})
			}
			if jsonOut {
				return printJSON(rows)
			}
			printListTable(rows)
			return nil
		},
	}
	cmd.Flags().Int("last", 20, "show N most recent sessions")
	return cmd
}

func printListTable(rows []listRow) {
	fmt.Printf("%-10s  %-20s  %-12s  %-10s  %7s  %-12s  %s\n",
		"Session", "Library", "Strategy", "Status", "Round", "Target", "Created")
	fmt.Printf("%-10s+-%-20s+-%-12s+-%-10s+-%7s+-%-12s+-%s\n",
		"----------", "--------------------", "------------", "----------", "-------", "------------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-10s  %-20s  %-12s  %-10s  %3d/%-3d  %-12s  %s\n",
			shortID(r.ID), r.Library, r.Strategy, r.Status, r.Round, r.Max, r.Target, r.CreatedAt)
	}
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Retrieval   session.Retrieval    `json:"retrieval"`
	Rounds      []ledger.Iteration   `json:"rounds"`
	Transitions []logging.Transition `json:"transitions"`
}

func sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session <id>",
		Short: "Show one session with its rounds and transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			st, err := openStores(cmd)
			if err != nil {
				return err
			}
			defer st.close()

			out, err := st.detail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(out)
			}
			printDetail(out)
			return nil
		},
	}
}

func printDetail(out detailOutput) {
	r := out.Retrieval
	fmt.Printf("Session:   %s\n", r.ID)
	fmt.Printf("User:      %s\n", r.UserID)
	fmt.Printf("Library:   %s / %s\n", r.Library, r.Distance)
	if r.Artifact != "" {
		fmt.Printf("Artifact:  %s\n", r.Artifact)
	}
	fmt.Printf("Strategy:  %s (k=%d)\n", r.Strategy, r.MaxIterationFaces)
	fmt.Printf("Status:    %s\n", r.Status)
	fmt.Printf("Round:     %d/%d\n", r.IteratorPointer, r.MaxIteration)
	if r.Target != "" {
		fmt.Printf("Target:    %s\n", r.Target)
	}
	if r.Reason != "" {
		fmt.Printf("Reason:    %s\n", r.Reason)
	}

	fmt.Printf("\nRounds:\n")
	for _, it := range out.Rounds {
		answer := it.Answer
		if answer == "" {
			answer = "(open)"
		}
		fmt.Printf("  %3d  %-12s  %s\n", it.No, answer, strings.Join(it.Options, " "))
	}

	fmt.Printf("\nTransitions:\n")
	for _, t := range out.Transitions {
		fmt.Printf("  %s  %-13s %-9s -> %-9s round=%d remaining=%d %s\n",
			t.CreatedAt.Format("15:04:05.000"), t.Event, t.From, t.To, t.Round, t.Detail.Remaining, t.Reason)
	}
}

// #endregion detail-mode

// #region helpers

type stores struct {
	db          interface{ Close() error }
	repo        *session.SQLRepository
	ledger      *ledger.SQL
	transitions *logging.TransitionLog
}

func openStores(cmd *cobra.Command) (*stores, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if _, err := os.Stat(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("database %s: %w", cfg.Database.Path, err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	st := &stores{db: db}
	if st.repo, err = session.NewSQLRepository(db); err != nil {
		db.Close()
		return nil, err
	}
	if st.ledger, err = ledger.NewSQL(db); err != nil {
		db.Close()
		return nil, err
	}
	if st.transitions, err = logging.NewTransitionLog(db); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

func (s *stores) close() { s.db.Close() }

func (s *stores) detail(ctx context.Context, id string) (detailOutput, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return detailOutput{}, err
	}
	rounds, err := s.ledger.History(ctx, id)
	if err != nil {
		return detailOutput{}, err
	}
	transitions, err := s.transitions.List(ctx, id)
	if err != nil {
		return detailOutput{}, err
	}
	return detailOutput{Retrieval: r, Rounds: rounds, Transitions: transitions}, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
