package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/feed"
)

const defaultRosterPoll = 3 * time.Second

// LobbyHandler serves the host view of a session: roster, status, live
// leaderboard and flagged players.
type LobbyHandler struct {
	lobby       *app.Lobby
	coordinator *app.Coordinator
	violations  *app.ViolationAggregator
	hub         *app.LeaderboardHub
	feed        feed.Feed
	rosterPoll  time.Duration
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

func NewLobbyHandler(lobby *app.Lobby, coordinator *app.Coordinator, violations *app.ViolationAggregator, hub *app.LeaderboardHub, f feed.Feed, rosterPoll time.Duration, logger *zap.Logger) *LobbyHandler {
	if rosterPoll <= 0 {
		rosterPoll = defaultRosterPoll
	}
	return &LobbyHandler{
		lobby:       lobby,
		coordinator: coordinator,
		violations:  violations,
		hub:         hub,
		feed:        f,
		rosterPoll:  rosterPoll,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS streams lobby updates for ?sessionId= until the client disconnects.
// Feed events only trigger a refresh; the periodic poll covers missed events.
func (h *LobbyHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	if _, err := h.lobby.Session(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Detect client disconnects; the host view sends nothing we act on.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	refresh := make(chan struct{}, 1)
	notify := func(feed.Event) {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}
	for _, table := range []feed.Table{feed.TableSessions, feed.TableParticipants, feed.TableViolations} {
		handle, err := h.feed.Subscribe(ctx, table, feed.InSession(sessionID), notify)
		if err != nil {
			h.logger.Warn("lobby subscribe failed", zap.String("table", string(table)), zap.Error(err))
			continue
		}
		defer handle.Unsubscribe()
	}

	boards, stopBoards := h.hub.Subscribe(sessionID)
	defer stopBoards()

	ticker := time.NewTicker(h.rosterPoll)
	defer ticker.Stop()

	if err := h.push(ctx, conn, sessionID); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-refresh:
		case lb, ok := <-boards:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage[domain.Leaderboard]{Type: "leaderboard", Payload: lb}); err != nil {
				return
			}
			continue
		}
		if err := h.push(ctx, conn, sessionID); err != nil {
			return
		}
	}
}

func (h *LobbyHandler) push(ctx context.Context, conn *websocket.Conn, sessionID string) error {
	session, err := h.lobby.Session(ctx, sessionID)
	if err != nil {
		h.logger.Warn("lobby session refresh failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	if err := conn.WriteJSON(outboundMessage[domain.GameSession]{Type: "session", Payload: session}); err != nil {
		return err
	}

	roster, err := h.lobby.Roster(ctx, sessionID)
	if err != nil {
		h.logger.Warn("lobby roster refresh failed", zap.String("session_id", sessionID), zap.Error(err))
	} else if err := conn.WriteJSON(outboundMessage[[]domain.Participant]{Type: "roster", Payload: roster}); err != nil {
		return err
	}

	if session.Status == domain.SessionActive {
		if lb, err := h.coordinator.Leaderboard(ctx, sessionID); err == nil {
			if err := conn.WriteJSON(outboundMessage[domain.Leaderboard]{Type: "leaderboard", Payload: lb}); err != nil {
				return err
			}
		}
	}

	flagged, err := h.violations.FlaggedPlayers(ctx, sessionID)
	if err != nil {
		h.logger.Warn("lobby flagged refresh failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return conn.WriteJSON(outboundMessage[[]domain.FlaggedPlayer]{Type: "flagged", Payload: flagged})
}
