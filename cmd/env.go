package main

import (
	"github.com/rotisserie/eris"

	"github.com/apexsales/leadscore/internal/results"
	"github.com/apexsales/leadscore/internal/scoring"
	"github.com/apexsales/leadscore/pkg/anthropic"
	"github.com/apexsales/leadscore/pkg/kommo"
)

// initStorage opens the configured score store.
func initStorage() (results.Storage, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := results.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, eris.Wrap(err, "open score store")
		}
		return st, nil
	case "memory":
		return results.NewMemory(), nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initKommo builds the CRM client from config.
func initKommo() (kommo.Client, error) {
	if cfg.Kommo.BaseURL == "" || cfg.Kommo.AccessToken == "" {
		return nil, eris.New("kommo base_url and access_token are required")
	}
	return kommo.NewClient(cfg.Kommo.BaseURL, cfg.Kommo.AccessToken,
		kommo.WithPageLimit(cfg.Kommo.PageLimit),
		kommo.WithRateLimit(cfg.Kommo.RateLimit),
	), nil
}

// initRunner wires the scoring run dependencies onto the caller's
// storage handle.
func initRunner(st results.Storage) (*scoring.Runner, error) {
	client, err := initKommo()
	if err != nil {
		return nil, err
	}
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic key is required")
	}

	scorer := scoring.NewEngagementScorer(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic)
	return scoring.NewRunner(client, scorer, st, cfg.Scoring), nil
}
