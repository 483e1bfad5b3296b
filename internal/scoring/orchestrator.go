package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/apexsales/leadscore/internal/config"
	"github.com/apexsales/leadscore/internal/extract"
	"github.com/apexsales/leadscore/internal/model"
	"github.com/apexsales/leadscore/internal/results"
	"github.com/apexsales/leadscore/pkg/kommo"
)

// State is the lifecycle phase of a run.
type State string

const (
	StateIdle                   State = "idle"
	StateFetchingCommunications State = "fetching_communications"
	StateScoring                State = "scoring"
	StateCompleted              State = "completed"
	StateStopped                State = "stopped"
	StateFailed                 State = "failed"
)

// Request selects which leads a run scores. Exactly one of IDs,
// PipelineID, or All should be set.
type Request struct {
	IDs        []int
	PipelineID int
	All        bool

	// Rescore includes leads that already have a stored score.
	Rescore bool
	// MaxLeads caps the candidate list after filtering. Zero means no cap.
	MaxLeads int
}

// LeadError records a per-lead scoring failure.
type LeadError struct {
	LeadID   int    `json:"lead_id"`
	LeadName string `json:"lead_name"`
	Message  string `json:"message"`
	Fatal    bool   `json:"fatal"`
}

// Summary is the final accounting of a run.
type Summary struct {
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Stopped    bool        `json:"stopped"`
	Errors     []LeadError `json:"errors,omitempty"`
}

// Progress is a point-in-time snapshot of a run, safe to read while the
// run is still going.
type Progress struct {
	State     State    `json:"state"`
	Percent   int      `json:"percent"`
	Current   int      `json:"current"`
	Total     int      `json:"total"`
	LeadName  string   `json:"lead_name,omitempty"`
	Summary   *Summary `json:"summary,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

// Runner executes scoring runs one lead at a time. Sequential on purpose:
// the provider's rate budget is the bottleneck, and pacing between calls
// is what keeps a long run inside it.
type Runner struct {
	client  kommo.Client
	scorer  Scorer
	storage results.Storage
	cfg     config.ScoringConfig

	mu       sync.Mutex
	progress Progress
	stop     bool

	scored results.Set
}

// NewRunner creates a Runner. storage may be nil, in which case results
// live only in memory for the lifetime of the Runner.
func NewRunner(client kommo.Client, scorer Scorer, storage results.Storage, cfg config.ScoringConfig) *Runner {
	return &Runner{
		client:   client,
		scorer:   scorer,
		storage:  storage,
		cfg:      cfg,
		progress: Progress{State: StateIdle},
		scored:   results.Set{},
	}
}

// Progress returns a copy of the current run snapshot.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Stop requests a cooperative stop. The run finishes the in-flight lead,
// checkpoints it, and then exits with state stopped.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stop = true
}

// Results returns a copy of the scores accumulated so far.
func (r *Runner) Results() results.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(results.Set, len(r.scored))
	for id, sl := range r.scored {
		out[id] = sl
	}
	return out
}

func (r *Runner) stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop
}

func (r *Runner) setProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = p
}

// Run executes one scoring run and returns its summary. The summary is
// also recorded on the final Progress snapshot, so callers polling
// Progress see the same outcome.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	r.mu.Lock()
	if r.progress.State == StateFetchingCommunications || r.progress.State == StateScoring {
		r.mu.Unlock()
		return nil, eris.New("scoring: run already in progress")
	}
	r.stop = false
	r.progress = Progress{State: StateFetchingCommunications}
	r.mu.Unlock()

	summary, err := r.run(ctx, req)
	if err != nil {
		r.setProgress(Progress{State: StateFailed, LastError: err.Error(), Summary: summary})
		return summary, err
	}

	final := StateCompleted
	if summary.Stopped {
		final = StateStopped
	}
	r.setProgress(Progress{State: final, Percent: 100, Summary: summary})
	return summary, nil
}

func (r *Runner) run(ctx context.Context, req Request) (*Summary, error) {
	leads, err := r.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.MaxLeads > 0 && len(leads) > req.MaxLeads {
		leads = leads[:req.MaxLeads]
	}

	total := len(leads)
	zap.L().Info("starting scoring run", zap.Int("leads", total))
	if total == 0 {
		return &Summary{}, nil
	}

	// Phase one, progress 0-50: fetch communications for every lead.
	// A per-lead fetch failure degrades that lead to an empty activity
	// section rather than failing the run.
	for i := range leads {
		if r.stopped() {
			return summarize(total, 0, nil, true), nil
		}
		r.setProgress(Progress{
			State:    StateFetchingCommunications,
			Percent:  i * 50 / total,
			Current:  i + 1,
			Total:    total,
			LeadName: leads[i].Name,
		})

		// List endpoints return thin leads; the detail fetch brings in
		// embedded contacts and companies for the extractor.
		if full, err := r.client.GetLead(ctx, leads[i].ID, "contacts", "companies"); err != nil {
			zap.L().Warn("lead detail fetch failed",
				zap.Int("lead_id", leads[i].ID), zap.Error(err))
		} else {
			leads[i] = *full
		}

		comms, err := r.client.GetLeadCommunications(ctx, leads[i].ID)
		if err != nil {
			zap.L().Warn("communication fetch failed",
				zap.Int("lead_id", leads[i].ID), zap.Error(err))
		} else {
			leads[i].Messages = comms.Messages
			leads[i].Notes = comms.Notes
		}

		if i < total-1 {
			if err := sleepCtx(ctx, r.cfg.FetchDelay); err != nil {
				return nil, err
			}
		}
	}

	// Phase two, progress 50-100: score sequentially, checkpointing
	// after every lead so a crash loses at most the in-flight lead.
	var errs []LeadError
	processed := 0
	for i, lead := range leads {
		if r.stopped() {
			return summarize(total, processed, errs, true), nil
		}
		r.setProgress(Progress{
			State:    StateScoring,
			Percent:  50 + i*50/total,
			Current:  i + 1,
			Total:    total,
			LeadName: lead.Name,
		})

		profile := extract.Profile(lead)
		res, err := r.scorer.Score(ctx, profile)

		scored := model.ScoredLead{Lead: lead}
		var fatal bool
		switch {
		case err == nil:
			scored.AIScore = res.Score
			scored.AIReason = res.Reason
		case Classify(err) == Fatal:
			fatal = true
			scored.AIScore = model.NeutralScore
			scored.AIReason = err.Error()
			errs = append(errs, LeadError{
				LeadID: lead.ID, LeadName: lead.Name,
				Message: err.Error(), Fatal: true,
			})
			zap.L().Error("fatal scoring error, stopping run",
				zap.Int("lead_id", lead.ID), zap.Error(err))
		default:
			scored.AIScore = model.NeutralScore
			scored.AIReason = fmt.Sprintf("Scoring Error: %s", err.Error())
			errs = append(errs, LeadError{
				LeadID: lead.ID, LeadName: lead.Name, Message: err.Error(),
			})
			zap.L().Warn("scoring error, continuing",
				zap.Int("lead_id", lead.ID), zap.Error(err))
		}

		r.record(ctx, scored)
		processed++

		if fatal {
			return summarize(total, processed, errs, true), nil
		}
		if i < total-1 {
			if err := sleepCtx(ctx, r.cfg.ScoreDelay); err != nil {
				return nil, err
			}
		}
	}

	return summarize(total, processed, errs, false), nil
}

// record merges one scored lead into memory and checkpoints the merged
// set. A failed save is logged and swallowed: losing a checkpoint is
// recoverable, aborting a paced run over it is not.
func (r *Runner) record(ctx context.Context, scored model.ScoredLead) {
	r.mu.Lock()
	results.Merge(r.scored, scored)
	snapshot := make(results.Set, len(r.scored))
	for id, sl := range r.scored {
		snapshot[id] = sl
	}
	r.mu.Unlock()

	if r.storage == nil {
		return
	}
	persisted, err := r.storage.Load(ctx)
	if err != nil {
		zap.L().Warn("checkpoint load failed", zap.Error(err))
		persisted = results.Set{}
	}
	for _, sl := range snapshot {
		results.Merge(persisted, sl)
	}
	if err := r.storage.Save(ctx, persisted); err != nil {
		zap.L().Warn("checkpoint save failed", zap.Error(err))
	}
}

// summarize reports against the full candidate count: a stopped run
// still says how many leads it set out to score.
func summarize(total, processed int, errs []LeadError, stopped bool) *Summary {
	return &Summary{
		Total:      total,
		Successful: processed - len(errs),
		Failed:     len(errs),
		Stopped:    stopped,
		Errors:     errs,
	}
}

// candidates resolves the request to a concrete lead list. Closed leads
// are never candidates; already-scored leads are skipped unless the
// request asks for a rescore.
func (r *Runner) candidates(ctx context.Context, req Request) ([]model.Lead, error) {
	var leads []model.Lead
	var err error
	switch {
	case len(req.IDs) > 0:
		for _, id := range req.IDs {
			lead, lerr := r.client.GetLead(ctx, id)
			if lerr != nil {
				zap.L().Warn("lead fetch failed", zap.Int("lead_id", id), zap.Error(lerr))
				continue
			}
			leads = append(leads, *lead)
		}
	case req.PipelineID != 0:
		leads, err = r.client.GetLeads(ctx, req.PipelineID, 0)
	case req.All:
		leads, err = r.client.GetAllLeads(ctx)
	default:
		return nil, eris.New("scoring: request selects no leads")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scoring: fetch candidates")
	}

	scored := r.scoredIDs(ctx)
	out := leads[:0]
	for _, lead := range leads {
		if lead.IsClosed() {
			continue
		}
		if !req.Rescore {
			if _, ok := scored[lead.ID]; ok {
				continue
			}
		}
		out = append(out, lead)
	}
	return out, nil
}

// scoredIDs is the union of in-memory and persisted scores.
func (r *Runner) scoredIDs(ctx context.Context) map[int]struct{} {
	ids := map[int]struct{}{}
	r.mu.Lock()
	for id := range r.scored {
		ids[id] = struct{}{}
	}
	r.mu.Unlock()

	if r.storage != nil {
		persisted, err := r.storage.Load(ctx)
		if err != nil {
			zap.L().Warn("loading persisted scores failed", zap.Error(err))
		}
		for id := range persisted {
			ids[id] = struct{}{}
		}
	}
	return ids
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
