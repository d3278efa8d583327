package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// API exposes the lobby and reporting operations as JSON endpoints.
type API struct {
	lobby       *app.Lobby
	coordinator *app.Coordinator
	violations  *app.ViolationAggregator
	badges      *app.BadgeEvaluator
	logger      *zap.Logger
}

func NewAPI(lobby *app.Lobby, coordinator *app.Coordinator, violations *app.ViolationAggregator, badges *app.BadgeEvaluator, logger *zap.Logger) *API {
	return &API{lobby: lobby, coordinator: coordinator, violations: violations, badges: badges, logger: logger}
}

// Register mounts the endpoints on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", a.createSession)
	mux.HandleFunc("POST /api/sessions/join", a.join)
	mux.HandleFunc("GET /api/sessions/{id}", a.session)
	mux.HandleFunc("POST /api/sessions/{id}/start", a.start)
	mux.HandleFunc("POST /api/sessions/{id}/end", a.end)
	mux.HandleFunc("GET /api/sessions/{id}/participants", a.participants)
	mux.HandleFunc("GET /api/sessions/{id}/leaderboard", a.leaderboard)
	mux.HandleFunc("GET /api/sessions/{id}/violations/flagged", a.flagged)
	mux.HandleFunc("GET /api/sessions/{id}/violations/high", a.highSeverity)
	mux.HandleFunc("GET /api/leaderboard/cumulative", a.cumulative)
	mux.HandleFunc("GET /api/users/{id}/badges", a.userBadges)
}

type createSessionRequest struct {
	QuizID    string              `json:"quizId"`
	TeacherID string              `json:"teacherId"`
	Settings  domain.GameSettings `json:"settings"`
}

type joinRequest struct {
	PIN      string `json:"pin"`
	Nickname string `json:"nickname"`
	UserID   string `json:"userId"`
}

type joinResponse struct {
	Session     domain.GameSession `json:"session"`
	Participant domain.Participant `json:"participant"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizID == "" {
		http.Error(w, "quizId is required", http.StatusBadRequest)
		return
	}
	session, err := a.lobby.CreateSession(r.Context(), req.QuizID, req.TeacherID, req.Settings)
	if err != nil {
		a.fail(w, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid join request", http.StatusBadRequest)
		return
	}
	session, participant, err := a.lobby.JoinByPIN(r.Context(), req.PIN, req.Nickname, req.UserID)
	if err != nil {
		a.fail(w, "join session", err)
		return
	}
	writeJSON(w, http.StatusCreated, joinResponse{Session: session, Participant: participant})
}

func (a *API) session(w http.ResponseWriter, r *http.Request) {
	session, err := a.lobby.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) start(w http.ResponseWriter, r *http.Request) {
	session, err := a.lobby.StartSession(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "start session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) end(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := a.lobby.Session(r.Context(), sessionID); err != nil {
		a.fail(w, "end session", err)
		return
	}
	lb, err := a.coordinator.EndSession(r.Context(), sessionID)
	if err != nil {
		a.fail(w, "end session", err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (a *API) participants(w http.ResponseWriter, r *http.Request) {
	roster, err := a.lobby.Roster(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "list participants", err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := a.coordinator.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (a *API) flagged(w http.ResponseWriter, r *http.Request) {
	players, err := a.violations.FlaggedPlayers(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "flagged players", err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (a *API) highSeverity(w http.ResponseWriter, r *http.Request) {
	rows, err := a.violations.HighSeverity(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "high severity violations", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) cumulative(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	rows, err := a.coordinator.CumulativeLeaderboard(r.Context(), limit)
	if err != nil {
		a.fail(w, "cumulative leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) userBadges(w http.ResponseWriter, r *http.Request) {
	earned, err := a.badges.Earned(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "user badges", err)
		return
	}
	writeJSON(w, http.StatusOK, earned)
}

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		a.logger.Error(op+" failed", zap.Error(err))
	}
	writeError(w, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrInvalidPIN):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionEnded),
		errors.Is(err, domain.ErrNoParticipants),
		errors.Is(err, domain.ErrSessionNotWaiting),
		errors.Is(err, domain.ErrDuplicatePIN):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNicknameRequired),
		errors.Is(err, domain.ErrInvalidQuiz):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorPayload{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
