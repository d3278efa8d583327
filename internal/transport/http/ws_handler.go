package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-quiz-service/internal/anticheat"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// WSHandler serves the player socket: join or rejoin, then stream state
// snapshots while accepting answers and anti-cheat signals.
type WSHandler struct {
	lobby      *app.Lobby
	engine     *app.Engine
	violations *app.ViolationAggregator
	monitor    anticheat.Options
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(lobby *app.Lobby, engine *app.Engine, violations *app.ViolationAggregator, monitor anticheat.Options, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		lobby:      lobby,
		engine:     engine,
		violations: violations,
		monitor:    monitor,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Answer int `json:"answer"`
}

type joinedPayload struct {
	Session     domain.GameSession `json:"session"`
	Participant domain.Participant `json:"participant"`
}

type warningPayload struct {
	ViolationType domain.ViolationType `json:"violationType"`
	Count         int                  `json:"count"`
	Level         domain.Severity      `json:"level"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// ServeWS upgrades the request and drives one player. New players pass
// pin and nickname (userId optional); returning players pass participantId.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	participantID := query.Get("participantId")
	pin := query.Get("pin")
	nickname := query.Get("nickname")
	if participantID == "" && (pin == "" || nickname == "") {
		http.Error(w, "missing pin and nickname, or participantId", http.StatusBadRequest)
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

	var (
		session     domain.GameSession
		participant domain.Participant
	)
	if participantID != "" {
		session, participant, err = h.lobby.Rejoin(ctx, participantID)
	} else {
		session, participant, err = h.lobby.JoinByPIN(ctx, pin, nickname, query.Get("userId"))
	}
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	monitor := anticheat.NewMonitor(h.violations, session.ID, participant.ID, h.monitor, h.logger)
	player := h.engine.NewPlayer(session, participant, monitor)
	if err := player.Start(ctx); err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})
	forwardDone := make(chan struct{})
	runDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write failed", zap.Error(err))
				cancel()
				// Keep draining so producers never block on a dead socket.
				for range send {
				}
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{Session: session, Participant: participant}}

	go func() {
		defer close(runDone)
		if err := player.Run(ctx); err != nil {
			h.logger.Warn("player stopped", zap.String("participant_id", participant.ID), zap.Error(err))
		}
	}()
	go monitor.Run(ctx)

	// Updates is closed when Run returns, which ends this forwarder.
	go func() {
		defer close(forwardDone)
		for snap := range player.Updates() {
			send <- outboundMessage[any]{Type: "state", Payload: snap}
		}
	}()

	reads := make(chan inboundMessage)
	go func() {
		defer close(reads)
		for {
			var inbound inboundMessage
			if err := conn.ReadJSON(&inbound); err != nil {
				return
			}
			select {
			case reads <- inbound:
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case inbound, ok := <-reads:
			if !ok {
				break loop
			}
			if reply, ok := h.handle(ctx, player, monitor, inbound); ok {
				send <- reply
			}
		}
	}

	cancel()
	<-runDone
	<-forwardDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(ctx context.Context, player *app.Player, monitor *anticheat.Monitor, inbound inboundMessage) (outboundMessage[any], bool) {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}, true
		}
		outcome, err := player.SubmitAnswer(ctx, payload.Answer)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage[any]{Type: "answerResult", Payload: outcome}, true
	case "signal":
		var sig anticheat.Signal
		if err := json.Unmarshal(inbound.Payload, &sig); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid signal payload"}}, true
		}
		vt, detected := monitor.Observe(ctx, sig)
		if !detected {
			return outboundMessage[any]{}, false
		}
		count := monitor.Count()
		return outboundMessage[any]{Type: "warning", Payload: warningPayload{
			ViolationType: vt,
			Count:         count,
			Level:         domain.SeverityFor(count),
		}}, true
	default:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}, true
	}
}
