package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/bukudoa/internal/clients"
	"github.com/briangreenhill/bukudoa/internal/jobs"
	"github.com/briangreenhill/bukudoa/internal/offline"
)

const maxPushPayload = 4 << 10

// handleWebSocket registers a tab as a client and feeds its messages to the
// worker until the connection closes
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := clients.Upgrader
	upgrader.CheckOrigin = s.sameOriginRequest

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := clients.NewWSClient(conn, s.Log)
	s.Clients.Add(c, s.Worker.State() == offline.StateActive)
	s.Metrics.Clients.Inc()
	defer func() {
		s.Clients.Remove(c.ID())
		s.Metrics.Clients.Dec()
	}()

	err = c.Serve(r.Context(), func(ctx context.Context, c *clients.WSClient, raw json.RawMessage) {
		var msg offline.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.Log.Warn().Err(err).Str("client", c.ID()).Msg("bad client message")
			return
		}
		if err := s.Worker.HandleMessage(ctx, msg, c); err != nil {
			s.Log.Warn().Err(err).Str("client", c.ID()).Str("type", msg.Type).Msg("client message failed")
		}
	})
	if err != nil {
		s.Log.Debug().Err(err).Str("client", c.ID()).Msg("websocket closed")
	}
}

// sameOriginRequest accepts websocket handshakes from the public origin and
// from non-browser clients that send no Origin header
func (s *Server) sameOriginRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.EqualFold(strings.TrimRight(origin, "/"), s.public.Scheme+"://"+s.public.Host)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload))
	if err != nil {
		http.Error(w, "could not read payload", http.StatusBadRequest)
		return
	}

	n, err := s.Worker.Push(r.Context(), payload)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("notification", n.ID).Msg("push failed")
		http.Error(w, "notification delivery failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, r, http.StatusCreated, n)
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	err := s.Worker.NotificationClick(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, offline.ErrUnknownNotification):
		http.Error(w, "notification not found", http.StatusNotFound)
	case errors.Is(err, clients.ErrNoClients):
		http.Error(w, "no open window to focus", http.StatusConflict)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("notification click failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

type checkResponse struct {
	Queued  string `json:"queued,omitempty"`
	Changed bool   `json:"changed"`
	Version string `json:"version,omitempty"`
}

// handleCheck queues a manual version check when a queue is configured,
// otherwise runs it inline
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if s.Queue != nil {
		task, err := jobs.NewCheckVersionTask(jobs.ReasonManual, s.checkTimeout, time.Now())
		if err != nil {
			http.Error(w, "failed to queue version check", http.StatusInternalServerError)
			return
		}
		info, err := s.Queue.Enqueue(task)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("enqueue version check")
			http.Error(w, "failed to queue version check", http.StatusInternalServerError)
			return
		}
		hlog.FromRequest(r).Info().Str("task", info.ID).Msg("version check queued")
		writeJSON(w, r, http.StatusAccepted, checkResponse{Queued: info.ID})
		return
	}

	changed, err := s.Worker.CheckForUpdate(r.Context())
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("version check failed")
		http.Error(w, "version check failed", http.StatusBadGateway)
		return
	}
	st, err := s.Worker.Status(r.Context())
	if err != nil {
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, checkResponse{Changed: changed, Version: st.LastVersion})
}

func (s *Server) handleSkipWaiting(w http.ResponseWriter, r *http.Request) {
	if err := s.Worker.HandleMessage(r.Context(), offline.Message{Type: offline.MsgSkipWaiting}, nil); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("skip waiting failed")
		http.Error(w, "skip waiting failed", http.StatusConflict)
		return
	}
	s.handleStatus(w, r)
}
