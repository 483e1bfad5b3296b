package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexsales/leadscore/internal/results"
	"github.com/apexsales/leadscore/internal/scoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		api := newAPI(ctx, st)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Handle("/api/kommo/*", http.StripPrefix("/api/kommo", api.proxy()))
		r.Post("/api/score", api.startRun)
		r.Get("/api/score/{id}", api.runProgress)
		r.Post("/api/score/{id}/stop", api.stopRun)
		r.Get("/api/results", api.listResults)
		r.Get("/api/results/export", api.exportResults)
		r.Delete("/api/results/{id}", api.deleteResult)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

type api struct {
	base    context.Context
	storage results.Storage

	mu   sync.Mutex
	runs map[string]*scoring.Runner
}

func newAPI(base context.Context, st results.Storage) *api {
	return &api{base: base, storage: st, runs: map[string]*scoring.Runner{}}
}

// proxy forwards dashboard requests to the CRM with the server-side
// token, so the browser never sees credentials.
func (a *api) proxy() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		target := strings.TrimRight(cfg.Kommo.BaseURL, "/") + req.URL.Path
		if req.URL.RawQuery != "" {
			target += "?" + req.URL.RawQuery
		}

		out, err := http.NewRequestWithContext(req.Context(), req.Method, target, req.Body)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		out.Header.Set("Authorization", "Bearer "+cfg.Kommo.AccessToken)
		if ct := req.Header.Get("Content-Type"); ct != "" {
			out.Header.Set("Content-Type", ct)
		}

		resp, err := http.DefaultClient.Do(out)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	})
}

func (a *api) startRun(w http.ResponseWriter, req *http.Request) {
	var body struct {
		IDs        []int `json:"lead_ids"`
		PipelineID int   `json:"pipeline_id"`
		All        bool  `json:"all"`
		Rescore    bool  `json:"rescore"`
		MaxLeads   int   `json:"max_leads"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(body.IDs) == 0 && body.PipelineID == 0 && !body.All {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "lead_ids, pipeline_id, or all is required"})
		return
	}
	if cfg.Anthropic.Key == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scoring is not configured"})
		return
	}

	runner, err := initRunner(a.storage)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	id := uuid.New().String()
	a.mu.Lock()
	a.runs[id] = runner
	a.mu.Unlock()

	// A run outlives the request; the server's base context bounds it.
	go func() {
		_, err := runner.Run(a.base, scoring.Request{
			IDs:        body.IDs,
			PipelineID: body.PipelineID,
			All:        body.All,
			Rescore:    body.Rescore,
			MaxLeads:   body.MaxLeads,
		})
		if err != nil {
			zap.L().Error("scoring run failed", zap.String("run_id", id), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (a *api) runProgress(w http.ResponseWriter, req *http.Request) {
	runner := a.lookup(chi.URLParam(req, "id"))
	if runner == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, runner.Progress())
}

func (a *api) stopRun(w http.ResponseWriter, req *http.Request) {
	runner := a.lookup(chi.URLParam(req, "id"))
	if runner == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	runner.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (a *api) lookup(id string) *scoring.Runner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs[id]
}

func (a *api) listResults(w http.ResponseWriter, req *http.Request) {
	set, err := a.storage.Load(req.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(set),
		"results": set.Sorted(),
	})
}

func (a *api) exportResults(w http.ResponseWriter, req *http.Request) {
	set, err := a.storage.Load(req.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="scored-leads.csv"`)
	if err := results.WriteCSV(w, set); err != nil {
		zap.L().Warn("csv export failed", zap.Error(err))
	}
}

func (a *api) deleteResult(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(req, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid lead id"})
		return
	}
	if err := a.storage.Delete(req.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
