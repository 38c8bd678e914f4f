package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipcycle/clipcycle/internal/ledger"
	"github.com/clipcycle/clipcycle/internal/youtube"
)

const (
	defaultClipsLimit = 50
	maxClipsLimit     = 200
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", statsHandler(cfg))
		r.Get("/clips", listClipsHandler(cfg))
		r.Get("/clips/{clipID}/media", clipMediaHandler(cfg))
		r.Delete("/clips/cleanup", cleanupHandler(cfg))
		r.Delete("/clips/{clipID}", deleteClipHandler(cfg))
		r.Get("/rotation", rotationHandler(cfg))
		r.Get("/analytics", analyticsHandler(cfg))
		r.Post("/disconnect", disconnectHandler(cfg))
	})

	r.Get("/auth/youtube", authStartHandler(cfg))
	r.Get("/auth/youtube/callback", authCallbackHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cfg.Ledger.Stats(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read ledger stats", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, StatsResponse{
			TotalClips:       stats.Total,
			Uploaded:         stats.Uploaded,
			Pending:          stats.Pending,
			Failed:           stats.Failed,
			YouTubeConnected: cfg.Auth.Connected(),
		})
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", defaultClipsLimit)
		if limit < 1 || limit > maxClipsLimit {
			limit = defaultClipsLimit
		}
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		clips, err := cfg.Ledger.List(r.Context(), limit, offset)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{
			Clips:  make([]ClipResponse, len(clips)),
			Limit:  limit,
			Offset: offset,
		}
		for i, c := range clips {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func clipMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clipID := chi.URLParam(r, "clipID")

		rec, err := cfg.Ledger.Get(r.Context(), clipID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if rec == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		if rec.LocalPath == "" {
			WriteError(w, http.StatusNotFound, "clip has no local media", "NO_MEDIA")
			return
		}

		if err := cfg.MediaServer.ServeClip(w, r, rec.LocalPath); err != nil {
			cfg.Logger.Error("media serve error", "error", err, "clip_id", clipID)
		}
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clipID := chi.URLParam(r, "clipID")

		err := cfg.Ledger.DeleteRecord(r.Context(), clipID)
		if errors.Is(err, ledger.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, DeleteResponse{Success: true, ClipID: clipID})
	}
}

func cleanupHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = ledger.StatusFailed
		}

		count, err := cfg.Ledger.Cleanup(r.Context(), status)
		if err != nil {
			if status != ledger.StatusPending && status != ledger.StatusFailed {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, CleanupResponse{Success: true, Status: status, Count: count})
	}
}

func rotationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cursor, err := cfg.Rotation.Cursor(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read rotation state", "INTERNAL_ERROR")
			return
		}
		candidates, err := cfg.Rotation.Candidates(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list candidates", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, RotationResponse{Cursor: cursor, Candidates: candidates})
	}
}

func analyticsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := queryInt(r, "days", 30)

		tok, err := cfg.Auth.Token(r.Context())
		if err != nil || tok == nil {
			WriteError(w, http.StatusUnauthorized, "destination account not connected", "NOT_CONNECTED")
			return
		}

		report, err := cfg.Analytics.Analytics(r.Context(), tok, days)
		if err != nil {
			switch {
			case errors.Is(err, youtube.ErrAuthExpired):
				WriteError(w, http.StatusUnauthorized, "authorization expired, reconnect the account", "AUTH_EXPIRED")
			case errors.Is(err, youtube.ErrQuotaExceeded):
				WriteError(w, http.StatusTooManyRequests, "reporting quota exceeded", "QUOTA_EXCEEDED")
			default:
				WriteError(w, http.StatusBadGateway, "analytics request failed", "UPSTREAM_ERROR")
			}
			return
		}

		WriteJSON(w, http.StatusOK, report)
	}
}

func disconnectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Auth.Disconnect(); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, DisconnectResponse{Success: true})
	}
}

func authStartHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, _ := cfg.Auth.AuthURL()
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	}
}

func authCallbackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errMsg := q.Get("error"); errMsg != "" {
			WriteError(w, http.StatusBadRequest, "authorization denied: "+errMsg, "AUTH_DENIED")
			return
		}

		code := q.Get("code")
		state := q.Get("state")
		if code == "" || state == "" {
			WriteError(w, http.StatusBadRequest, "code and state are required", "BAD_REQUEST")
			return
		}

		if err := cfg.Auth.Exchange(r.Context(), code, state); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "AUTH_FAILED")
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body><h3>Account connected.</h3>You can close this tab.</body></html>"))
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
