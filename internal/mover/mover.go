// Package mover reassigns scored leads to a pipeline stage and
// distributes ownership across users.
package mover

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/apexsales/leadscore/internal/model"
	"github.com/apexsales/leadscore/pkg/kommo"
)

// Item is one lead to move, with the score to record as a tag. Score
// zero means no score tag is added.
type Item struct {
	LeadID int
	Score  int
}

// Request describes one move batch.
type Request struct {
	Items      []Item
	PipelineID int
	StatusID   int

	// UserID assigns every lead to one user. Ignored when Users is set.
	UserID int
	// Users, when non-empty, distributes leads round-robin.
	Users []model.User
	// CycleIndex is the round-robin position to start from. Callers
	// persist the returned index between batches so distribution stays
	// fair across invocations.
	CycleIndex int

	// Delay paces consecutive moves. Zero means no pacing.
	Delay time.Duration
}

// ItemError records one failed move.
type ItemError struct {
	LeadID  int    `json:"lead_id"`
	Message string `json:"message"`
}

// Result is the outcome of a move batch.
type Result struct {
	Moved      int         `json:"moved"`
	Failed     int         `json:"failed"`
	CycleIndex int         `json:"cycle_index"`
	Errors     []ItemError `json:"errors,omitempty"`
}

// Move processes the batch sequentially. A per-lead failure is tallied
// and the batch continues.
func Move(ctx context.Context, client kommo.Client, req Request) (*Result, error) {
	if req.PipelineID == 0 || req.StatusID == 0 {
		return nil, eris.New("mover: pipeline and status are required")
	}

	res := &Result{CycleIndex: req.CycleIndex}
	for i, item := range req.Items {
		userID := req.UserID
		if len(req.Users) > 0 {
			// Every attempted lead consumes a round-robin slot, moved
			// or not, so reruns of failed leads land on fresh owners.
			userID = req.Users[res.CycleIndex%len(req.Users)].ID
			res.CycleIndex = (res.CycleIndex + 1) % len(req.Users)
		}

		if err := moveOne(ctx, client, item, req.PipelineID, req.StatusID, userID); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			res.Errors = append(res.Errors, ItemError{LeadID: item.LeadID, Message: err.Error()})
			zap.L().Warn("move failed", zap.Int("lead_id", item.LeadID), zap.Error(err))
		} else {
			res.Moved++
		}

		if req.Delay > 0 && i < len(req.Items)-1 {
			t := time.NewTimer(req.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return res, ctx.Err()
			case <-t.C:
			}
		}
	}
	return res, nil
}

func moveOne(ctx context.Context, client kommo.Client, item Item, pipelineID, statusID, userID int) error {
	if err := client.MoveLead(ctx, item.LeadID, pipelineID, statusID); err != nil {
		return eris.Wrap(err, "mover: move lead")
	}
	if userID != 0 {
		err := client.UpdateLead(ctx, item.LeadID, map[string]any{"responsible_user_id": userID})
		if err != nil {
			return eris.Wrap(err, "mover: assign user")
		}
	}
	if item.Score != 0 {
		if err := client.AddTag(ctx, item.LeadID, fmt.Sprintf("AI Score: %d/10", item.Score)); err != nil {
			return eris.Wrap(err, "mover: tag score")
		}
	}
	return nil
}
