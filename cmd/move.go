package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apexsales/leadscore/internal/model"
	"github.com/apexsales/leadscore/internal/mover"
	"github.com/apexsales/leadscore/internal/results"
)

var (
	movePipeline   int
	moveStatus     int
	moveIDs        []int
	moveMinScore   int
	moveUser       int
	moveCycle      bool
	moveCycleIndex int
)

var moveCmd = &cobra.Command{
	Use:   "move",
	Short: "Move scored leads to a pipeline stage and distribute owners",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := initKommo()
		if err != nil {
			return err
		}
		st, err := initStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		set, err := st.Load(ctx)
		if err != nil {
			return eris.Wrap(err, "load scores")
		}

		// Verify the target stage and fetch the user pool concurrently.
		var users []model.User
		var statuses []model.StatusRef
		g, gctx := errgroup.WithContext(ctx)
		if moveCycle {
			g.Go(func() error {
				var err error
				users, err = client.GetUsers(gctx)
				return eris.Wrap(err, "fetch users")
			})
		}
		g.Go(func() error {
			var err error
			statuses, err = client.GetPipelineStatuses(gctx, movePipeline)
			return eris.Wrap(err, "fetch pipeline statuses")
		})
		if err := g.Wait(); err != nil {
			return err
		}

		if !statusInPipeline(statuses, moveStatus) {
			return eris.Errorf("status %d not found in pipeline %d", moveStatus, movePipeline)
		}
		if moveCycle && len(users) == 0 {
			return eris.New("no users available for round-robin distribution")
		}

		items := selectItems(set, moveIDs, moveMinScore)
		if len(items) == 0 {
			zap.L().Info("no leads match the move selection")
			return nil
		}

		res, err := mover.Move(ctx, client, mover.Request{
			Items:      items,
			PipelineID: movePipeline,
			StatusID:   moveStatus,
			UserID:     moveUser,
			Users:      users,
			CycleIndex: moveCycleIndex,
			Delay:      cfg.Mover.Delay,
		})
		if err != nil {
			return eris.Wrap(err, "move batch")
		}

		zap.L().Info("move finished",
			zap.Int("moved", res.Moved),
			zap.Int("failed", res.Failed),
			zap.Int("cycle_index", res.CycleIndex),
		)
		for _, e := range res.Errors {
			zap.L().Warn("lead not moved",
				zap.Int("lead_id", e.LeadID),
				zap.String("error", e.Message),
			)
		}
		return nil
	},
}

func statusInPipeline(statuses []model.StatusRef, statusID int) bool {
	for _, s := range statuses {
		if s.ID == statusID {
			return true
		}
	}
	return false
}

// selectItems picks leads from the stored set. Explicit IDs win over
// the score threshold; IDs without a stored score carry score zero.
func selectItems(set results.Set, ids []int, minScore int) []mover.Item {
	var items []mover.Item
	if len(ids) > 0 {
		for _, id := range ids {
			items = append(items, mover.Item{LeadID: id, Score: set[id].AIScore})
		}
		return items
	}
	for _, id := range set.IDs() {
		if sl := set[id]; sl.AIScore >= minScore {
			items = append(items, mover.Item{LeadID: id, Score: sl.AIScore})
		}
	}
	return items
}

func init() {
	moveCmd.Flags().IntVar(&movePipeline, "pipeline", 0, "target pipeline ID (required)")
	moveCmd.Flags().IntVar(&moveStatus, "status", 0, "target status ID (required)")
	moveCmd.Flags().IntSliceVar(&moveIDs, "ids", nil, "move specific lead IDs")
	moveCmd.Flags().IntVar(&moveMinScore, "min-score", 1, "move stored leads with at least this score")
	moveCmd.Flags().IntVar(&moveUser, "user", 0, "assign all moved leads to this user ID")
	moveCmd.Flags().BoolVar(&moveCycle, "cycle", false, "distribute moved leads round-robin across account users")
	moveCmd.Flags().IntVar(&moveCycleIndex, "cycle-index", 0, "round-robin position to start from")
	_ = moveCmd.MarkFlagRequired("pipeline")
	_ = moveCmd.MarkFlagRequired("status")
	rootCmd.AddCommand(moveCmd)
}
