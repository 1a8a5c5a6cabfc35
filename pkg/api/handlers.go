package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/cuemby/keepwarm/pkg/manager"
	"github.com/cuemby/keepwarm/pkg/reconciler"
	"github.com/cuemby/keepwarm/pkg/types"
)

// endpoints is the index served at /
var endpoints = []string{
	"GET /list-apps",
	"GET /start?app=<name>[&force=1]",
	"GET /start[?force=1]",
	"GET /stop?app=<name>",
	"GET /state[?app=<name>]",
	"GET /diag",
	"GET /unlock[?app=<name>]",
	"GET /locks",
	"GET /clear-locks",
	"POST /webhook",
	"GET /webhook?action=set|info|delete",
	"GET /health",
	"GET /ready",
	"GET /metrics",
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"message":     "keepwarm control surface",
		"version":     s.version,
		"description": "Starts each configured Cloud Foundry app once per UTC day",
		"endpoints":   endpoints,
	})
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps := s.manager.Apps()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"apps":  apps,
		"total": len(apps),
	})
}

// knownApp writes a 404 and returns false when name is not in the roster
func (s *Server) knownApp(w http.ResponseWriter, name string) bool {
	if _, ok := s.manager.Config().App(name); !ok {
		writeError(w, http.StatusNotFound, "App not found")
		return false
	}
	return true
}

func forced(r *http.Request) bool {
	v := r.URL.Query().Get("force")
	return v == "1" || v == "true"
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("app")
	force := forced(r)

	if name == "" {
		count := len(s.manager.Config().EnabledApps())
		s.async(func(ctx context.Context) {
			s.manager.ReconcileAll(ctx, reconciler.Options{Trigger: types.TriggerManualAll, Force: force})
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"message": "Start requested for all enabled apps",
			"force":   force,
			"count":   count,
		})
		return
	}

	if !s.knownApp(w, name) {
		return
	}
	s.async(func(ctx context.Context) {
		if _, err := s.manager.Reconcile(ctx, name, reconciler.Options{Trigger: types.TriggerManual, Force: force}); err != nil {
			s.logger.Error().Err(err).Str("app", name).Msg("Background start failed")
		}
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"app":     name,
		"force":   force,
		"message": "Start requested",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("app")
	if name == "" {
		writeError(w, http.StatusBadRequest, "app parameter required")
		return
	}
	res, err := s.manager.Stop(r.Context(), name)
	if errors.Is(err, manager.ErrAppNotFound) {
		writeError(w, http.StatusNotFound, "App not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     res.Succeeded,
		"result": res,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("app")
	if name == "" {
		states := s.manager.StatusAll(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    true,
			"apps":  states,
			"total": len(states),
		})
		return
	}

	st, err := s.manager.Status(r.Context(), name)
	if errors.Is(err, manager.ErrAppNotFound) {
		writeError(w, http.StatusNotFound, "App not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    st.Succeeded,
		"state": st,
	})
}

func (s *Server) handleDiag(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		manager.Diagnostics
	}{
		OK:          true,
		Diagnostics: s.manager.Diagnostics(s.clock.Now()),
	})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("app")
	if name == "" {
		results := s.manager.UnlockAll(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"message": "Locks cleared for all apps",
			"deleted": results,
		})
		return
	}

	res, err := s.manager.ClearLock(r.Context(), name, r.URL.Query().Get("day"))
	if errors.Is(err, manager.ErrAppNotFound) {
		writeError(w, http.StatusNotFound, "App not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"app":     res.App,
		"deleted": res.Key,
		"success": res.Success,
	})
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"date":  s.manager.Today(),
		"store": s.manager.StoreName(),
		"locks": s.manager.Locks(r.Context()),
	})
}

func (s *Server) handleClearLocks(w http.ResponseWriter, r *http.Request) {
	res := s.manager.ClearAllLocks(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":           true,
		"success":      true,
		"clearedCount": res.Cleared,
		"totalCount":   res.Total,
	})
}

func (s *Server) handleWebhookUpdate(w http.ResponseWriter, r *http.Request) {
	if s.webhook == nil {
		writeError(w, http.StatusNotFound, "Telegram bot not configured")
		return
	}
	s.webhook.ServeHTTP(w, r)
}

// handleWebhookAdmin registers, inspects or removes the bot webhook
func (s *Server) handleWebhookAdmin(w http.ResponseWriter, r *http.Request) {
	if s.webhookAdmin == nil {
		writeError(w, http.StatusNotFound, "Telegram bot not configured")
		return
	}

	ctx := r.Context()
	switch action := r.URL.Query().Get("action"); action {
	case "set":
		url := "https://" + r.Host + "/webhook"
		if err := s.webhookAdmin.SetWebhook(ctx, url); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.logger.Info().Str("url", url).Msg("Webhook registered")
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "url": url})
	case "info":
		info, err := s.webhookAdmin.WebhookInfo(ctx)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "info": info})
	case "delete":
		if err := s.webhookAdmin.DeleteWebhook(ctx); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.logger.Info().Msg("Webhook removed")
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "deleted": true})
	default:
		writeError(w, http.StatusBadRequest, "action must be one of set, info, delete")
	}
}
