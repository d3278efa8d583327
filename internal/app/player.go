package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/feed"
	"live-quiz-service/internal/metrics"
)

// PlayerState is a node of the per-player state machine.
type PlayerState string

const (
	StateWaiting          PlayerState = "waiting"
	StateQuestion         PlayerState = "question"
	StateResults          PlayerState = "results"
	StateWaitingForOthers PlayerState = "waiting_for_others"
	StateEnded            PlayerState = "ended"
)

var errPlayerEnded = errors.New("player ended")

// Guard is switched on only while a question is displayed. The anti-cheat
// monitor implements it.
type Guard interface {
	Enable()
	Disable()
}

// Timing is the cadence of a player's scheduled work. A zero ResultsDelay
// disables the automatic advance after results; callers then use Advance.
type Timing struct {
	Tick         time.Duration
	ResultsDelay time.Duration
	StatusPoll   time.Duration
	FastPoll     time.Duration
	WaitingCheck time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Tick:         time.Second,
		ResultsDelay: time.Second,
		StatusPoll:   500 * time.Millisecond,
		FastPoll:     200 * time.Millisecond,
		WaitingCheck: 2 * time.Second,
	}
}

// QuestionView is the client-facing question; the correct answer is withheld.
type QuestionView struct {
	ID        string   `json:"id"`
	Prompt    string   `json:"question"`
	Options   []string `json:"options"`
	Points    int      `json:"points"`
	TimeLimit int      `json:"timeLimit"`
}

// AnswerOutcome is the feedback shown in the results state.
type AnswerOutcome struct {
	QuestionID    string `json:"questionId"`
	Answer        int    `json:"answer"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	TimeTaken     int    `json:"timeTaken"`
	CorrectAnswer int    `json:"correctAnswer"`
	Explanation   string `json:"explanation,omitempty"`
}

// PlayerSnapshot is an immutable copy of a player's state.
type PlayerSnapshot struct {
	State          PlayerState         `json:"state"`
	SessionID      string              `json:"sessionId"`
	ParticipantID  string              `json:"participantId"`
	QuestionIndex  int                 `json:"questionIndex"`
	QuestionCount  int                 `json:"questionCount"`
	Question       *QuestionView       `json:"question,omitempty"`
	TimeLeft       int                 `json:"timeLeft"`
	Score          int                 `json:"score"`
	Streak         int                 `json:"streak"`
	CorrectAnswers int                 `json:"correctAnswers"`
	LastAnswer     *AnswerOutcome      `json:"lastAnswer,omitempty"`
	NewBadges      []domain.Badge      `json:"newBadges,omitempty"`
	Leaderboard    *domain.Leaderboard `json:"leaderboard,omitempty"`
}

// Engine holds the collaborators shared by every player.
type Engine struct {
	quizzes     QuizRepository
	store       Store
	badges      *BadgeEvaluator
	coordinator *Coordinator
	feed        feed.Feed
	logger      *zap.Logger
	metrics     *metrics.Metrics
	timing      Timing
}

func NewEngine(quizzes QuizRepository, store Store, badges *BadgeEvaluator, coordinator *Coordinator, f feed.Feed, logger *zap.Logger, m *metrics.Metrics, timing Timing) *Engine {
	return &Engine{
		quizzes:     quizzes,
		store:       store,
		badges:      badges,
		coordinator: coordinator,
		feed:        f,
		logger:      logger,
		metrics:     m,
		timing:      timing,
	}
}

// Player drives one participant through the quiz at their own pace. All
// transitions are serialised by mu; the countdown, the pollers, the feed
// listener, and the results timer all funnel into the same methods.
type Player struct {
	engine        *Engine
	sessionID     string
	quizID        string
	participantID string
	userID        string
	guard         Guard
	logger        *zap.Logger

	mu         sync.Mutex
	lifeCtx    context.Context
	state      PlayerState
	quiz       domain.Quiz
	quizLoaded bool
	index      int
	shown      int
	question   *domain.Question
	timeLeft   int
	answered   bool
	score      int
	streak     int
	correct    int
	priorGames int
	lastAnswer *AnswerOutcome
	newBadges  []domain.Badge
	board      *domain.Leaderboard
	results    *time.Timer
	closed     bool

	updates chan PlayerSnapshot
}

// NewPlayer creates a player for a joined participant. guard may be nil.
func (e *Engine) NewPlayer(session domain.GameSession, participant domain.Participant, guard Guard) *Player {
	logger := e.logger.With(
		zap.String("session_id", session.ID),
		zap.String("participant_id", participant.ID),
	)
	return &Player{
		engine:        e,
		sessionID:     session.ID,
		quizID:        session.QuizID,
		participantID: participant.ID,
		userID:        participant.UserID,
		guard:         guard,
		logger:        logger,
		lifeCtx:       context.Background(),
		state:         StateWaiting,
		index:         participant.CurrentQuestionIndex,
		score:         participant.Score,
		streak:        participant.Streak,
		correct:       participant.CorrectAnswers,
		updates:       make(chan PlayerSnapshot, 16),
	}
}

// Updates delivers a snapshot after every transition. Slow readers only miss
// intermediate snapshots. The channel is closed when Run returns.
func (p *Player) Updates() <-chan PlayerSnapshot {
	return p.updates
}

// Start loads the participant, the quiz snapshot and play history, then
// applies the current session status.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, err := p.engine.store.GetParticipant(ctx, p.participantID)
	if err != nil {
		return err
	}
	p.reconcileLocked(row)

	if err := p.ensureQuizLocked(ctx); err != nil {
		return err
	}

	if p.userID != "" {
		games, err := p.engine.store.CountGamesPlayed(ctx, p.userID, p.sessionID)
		if err != nil {
			p.logger.Warn("load games played failed", zap.Error(err))
		}
		p.priorGames = games
	}

	session, err := p.engine.store.GetSession(ctx, p.sessionID)
	if err != nil {
		return err
	}
	p.applyStatusLocked(ctx, session.Status)
	p.emitLocked()
	return nil
}

func (p *Player) ensureQuizLocked(ctx context.Context) error {
	if p.quizLoaded {
		return nil
	}
	quiz, err := p.engine.quizzes.SessionQuiz(ctx, p.sessionID, p.quizID)
	if err != nil {
		return err
	}
	p.quiz = quiz
	p.quizLoaded = true
	return nil
}

// LoadQuestion shows the question at index. Out-of-range indexes are logged
// and leave the state unchanged.
func (p *Player) LoadQuestion(ctx context.Context, index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadQuestionLocked(ctx, index)
}

func (p *Player) loadQuestionLocked(ctx context.Context, index int) bool {
	if p.closed || p.state == StateEnded {
		return false
	}
	if err := p.ensureQuizLocked(ctx); err != nil {
		p.logger.Error("load quiz failed", zap.Error(err))
		return false
	}
	q, ok := p.quiz.QuestionAt(index)
	if !ok {
		p.logger.Warn("question index out of range", zap.Int("index", index), zap.Int("count", len(p.quiz.Questions)))
		return false
	}

	p.stopResultsLocked()
	p.question = &q
	p.index = index
	p.shown = index
	p.timeLeft = q.TimeLimit
	p.answered = false
	p.lastAnswer = nil
	p.newBadges = nil
	p.state = StateQuestion
	if p.guard != nil {
		p.guard.Enable()
	}
	p.emitLocked()
	return true
}

// SubmitAnswer grades option for the displayed question. A second call for
// the same question returns domain.ErrAlreadyAnswered without writing.
// Persistence failures are logged and gameplay continues on local state.
func (p *Player) SubmitAnswer(ctx context.Context, option int) (AnswerOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitLocked(ctx, option)
}

func (p *Player) submitLocked(ctx context.Context, option int) (AnswerOutcome, error) {
	if p.state != StateQuestion || p.question == nil {
		return AnswerOutcome{}, domain.ErrNotInQuestion
	}
	if p.answered {
		return AnswerOutcome{}, domain.ErrAlreadyAnswered
	}
	p.answered = true

	q := *p.question
	answeredIndex := p.shown
	timeTaken := q.TimeLimit - p.timeLeft
	correct, points := ScoreAnswer(q, option, p.timeLeft)
	outcome := AnswerOutcome{
		QuestionID:    q.ID,
		Answer:        option,
		Correct:       correct,
		Points:        points,
		TimeTaken:     timeTaken,
		CorrectAnswer: q.CorrectAnswer,
		Explanation:   q.Explanation,
	}

	err := p.engine.store.InsertAnswer(ctx, domain.Answer{
		ID:            uuid.NewString(),
		ParticipantID: p.participantID,
		QuestionID:    q.ID,
		Answer:        option,
		IsCorrect:     correct,
		TimeTaken:     timeTaken,
		PointsEarned:  points,
		CreatedAt:     time.Now(),
	})
	if errors.Is(err, domain.ErrDuplicateAnswer) {
		// Another path already claimed this question; take the stored progress.
		p.logger.Info("duplicate answer ignored", zap.String("question_id", q.ID))
		p.raiseCursorLocked(answeredIndex + 1)
		if row, err := p.engine.store.GetParticipant(ctx, p.participantID); err == nil {
			p.reconcileLocked(row)
			p.raiseCursorLocked(row.CurrentQuestionIndex)
		}
		p.enterResultsLocked(nil)
		return AnswerOutcome{}, domain.ErrAlreadyAnswered
	}
	if err != nil {
		p.logger.Error("persist answer failed", zap.String("question_id", q.ID), zap.Error(err))
	}

	if correct {
		p.score += points
		p.streak++
		p.correct++
	} else {
		p.streak = 0
	}
	p.raiseCursorLocked(answeredIndex + 1)

	row, err := p.engine.store.ApplyAnswer(ctx, p.participantID, domain.ScoreDelta{
		Index:   answeredIndex,
		Points:  points,
		Correct: correct,
	})
	if err != nil {
		p.logger.Error("update participant score failed", zap.Error(err))
	} else {
		p.reconcileLocked(row)
		p.raiseCursorLocked(row.CurrentQuestionIndex)
		p.publishParticipant(ctx, row)
	}
	p.engine.metrics.Answer(correct)

	if p.userID != "" && p.engine.badges != nil {
		badges, err := p.engine.badges.Evaluate(ctx, p.userID, BadgeContext{
			IsFirstGame: p.priorGames == 0 && answeredIndex == 0,
			AnswerTime:  &timeTaken,
			Streak:      p.streak,
			TotalGames:  p.priorGames + 1,
		})
		if err != nil {
			p.logger.Warn("badge evaluation failed", zap.Error(err))
		}
		p.newBadges = append(p.newBadges, badges...)
	}

	p.enterResultsLocked(&outcome)
	return outcome, nil
}

func (p *Player) enterResultsLocked(outcome *AnswerOutcome) {
	p.lastAnswer = outcome
	p.state = StateResults
	if p.guard != nil {
		p.guard.Disable()
	}
	p.emitLocked()

	if p.engine.timing.ResultsDelay <= 0 || p.closed {
		return
	}
	p.stopResultsLocked()
	ctx := p.lifeCtx
	p.results = time.AfterFunc(p.engine.timing.ResultsDelay, func() {
		p.Advance(ctx)
	})
}

func (p *Player) stopResultsLocked() {
	if p.results != nil {
		p.results.Stop()
		p.results = nil
	}
}

// Advance leaves the results state: the next question if one remains,
// otherwise the completion check.
func (p *Player) Advance(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.state != StateResults {
		return
	}
	p.results = nil
	p.advanceLocked(ctx)
}

func (p *Player) advanceLocked(ctx context.Context) {
	if p.index < len(p.quiz.Questions) {
		p.loadQuestionLocked(ctx, p.index)
		return
	}
	p.finishLocked(ctx)
}

func (p *Player) finishLocked(ctx context.Context) {
	done, err := p.engine.coordinator.ParticipantFinished(ctx, p.sessionID, len(p.quiz.Questions))
	if err != nil {
		p.logger.Error("completion check failed", zap.Error(err))
	}
	if done {
		p.endLocked(ctx)
		return
	}
	p.state = StateWaitingForOthers
	p.emitLocked()
}

// Tick decrements the countdown once. Reaching zero without an answer submits
// the timeout sentinel.
func (p *Player) Tick(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.state != StateQuestion {
		return
	}
	if p.timeLeft > 0 {
		p.timeLeft--
		p.emitLocked()
	}
	if p.timeLeft == 0 && !p.answered {
		if _, err := p.submitLocked(ctx, domain.TimeoutAnswer); err != nil {
			p.logger.Warn("timeout submission failed", zap.Error(err))
		}
	}
}

// ApplySessionStatus is the single transition function for session-level
// changes, fed by both the push listener and the status poll. Applying the
// same status twice is harmless. Completion overrides local progress.
func (p *Player) ApplySessionStatus(ctx context.Context, status domain.SessionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.applyStatusLocked(ctx, status)
}

func (p *Player) applyStatusLocked(ctx context.Context, status domain.SessionStatus) {
	switch status {
	case domain.SessionActive:
		if p.state != StateWaiting {
			return
		}
		// Swap the pre-start copy for the session's pinned snapshot.
		p.quizLoaded = false
		if err := p.ensureQuizLocked(ctx); err != nil {
			p.logger.Error("load session quiz failed", zap.Error(err))
			return
		}
		if p.index >= len(p.quiz.Questions) {
			p.finishLocked(ctx)
			return
		}
		p.loadQuestionLocked(ctx, p.index)
	case domain.SessionCompleted:
		if p.state != StateEnded {
			p.endLocked(ctx)
		}
	}
}

// CheckCompletion re-checks the session while this player waits for others.
func (p *Player) CheckCompletion(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.state != StateWaitingForOthers {
		return
	}
	done, err := p.engine.coordinator.CheckSession(ctx, p.sessionID, len(p.quiz.Questions))
	if err != nil {
		p.logger.Warn("waiting check failed", zap.Error(err))
		return
	}
	if done {
		p.endLocked(ctx)
	}
}

func (p *Player) endLocked(ctx context.Context) {
	p.stopResultsLocked()
	if p.guard != nil {
		p.guard.Disable()
	}
	p.state = StateEnded
	p.question = nil

	lb, err := p.engine.coordinator.Leaderboard(ctx, p.sessionID)
	if err != nil {
		p.logger.Warn("load final leaderboard failed", zap.Error(err))
	} else {
		p.board = &lb
	}

	count := len(p.quiz.Questions)
	if p.userID != "" && p.engine.badges != nil && count > 0 && p.correct >= count {
		badges, err := p.engine.badges.Evaluate(ctx, p.userID, BadgeContext{
			GameCompleted: true,
			PerfectScore:  true,
			Streak:        p.streak,
			TotalGames:    p.priorGames + 1,
		})
		if err != nil {
			p.logger.Warn("badge evaluation failed", zap.Error(err))
		}
		p.newBadges = append(p.newBadges, badges...)
	}
	p.emitLocked()
}

// reconcileLocked prefers the stored row without ever moving score, correct
// count or the cursor backwards. Streak is taken from the store as-is. The
// cursor is left alone while a question is on screen; the answer to it moves
// the cursor past that question.
func (p *Player) reconcileLocked(row domain.Participant) {
	if row.Score > p.score {
		p.score = row.Score
	}
	if row.CorrectAnswers > p.correct {
		p.correct = row.CorrectAnswers
	}
	if p.state != StateQuestion {
		p.raiseCursorLocked(row.CurrentQuestionIndex)
	}
	p.streak = row.Streak
}

func (p *Player) raiseCursorLocked(index int) {
	if index > p.index {
		p.index = index
	}
}

func (p *Player) publishParticipant(ctx context.Context, row domain.Participant) {
	if p.engine.feed == nil {
		return
	}
	if err := p.engine.feed.Publish(ctx, feed.Event{Table: feed.TableParticipants, Type: feed.EventUpdate, Participant: &row}); err != nil {
		p.logger.Warn("publish participant update failed", zap.Error(err))
	}
}

// State returns the current state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns a copy of the current state.
func (p *Player) Snapshot() PlayerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Player) snapshotLocked() PlayerSnapshot {
	snap := PlayerSnapshot{
		State:          p.state,
		SessionID:      p.sessionID,
		ParticipantID:  p.participantID,
		QuestionIndex:  p.index,
		QuestionCount:  len(p.quiz.Questions),
		TimeLeft:       p.timeLeft,
		Score:          p.score,
		Streak:         p.streak,
		CorrectAnswers: p.correct,
		Leaderboard:    p.board,
	}
	if p.question != nil && (p.state == StateQuestion || p.state == StateResults) {
		snap.Question = &QuestionView{
			ID:        p.question.ID,
			Prompt:    p.question.Prompt,
			Options:   append([]string(nil), p.question.Options...),
			Points:    p.question.Points,
			TimeLimit: p.question.TimeLimit,
		}
	}
	if p.lastAnswer != nil {
		outcome := *p.lastAnswer
		snap.LastAnswer = &outcome
	}
	if len(p.newBadges) > 0 {
		snap.NewBadges = append([]domain.Badge(nil), p.newBadges...)
	}
	return snap
}

func (p *Player) emitLocked() {
	if p.closed {
		return
	}
	snap := p.snapshotLocked()
	select {
	case p.updates <- snap:
	default:
		// Drop the oldest pending snapshot so the reader always gets the latest.
		select {
		case <-p.updates:
		default:
		}
		select {
		case p.updates <- snap:
		default:
		}
	}
}

// Run drives the player until ctx is cancelled or the session ends: a push
// listener on the session row, a status poll, a waiting-for-others check, and
// the per-question countdown. Every timer is stopped before Run returns.
func (p *Player) Run(ctx context.Context) error {
	p.mu.Lock()
	p.lifeCtx = ctx
	p.mu.Unlock()

	p.engine.metrics.PlayerStarted()
	defer p.engine.metrics.PlayerStopped()

	var handle feed.Handle
	if p.engine.feed != nil {
		h, err := p.engine.feed.Subscribe(ctx, feed.TableSessions, feed.InSession(p.sessionID), func(ev feed.Event) {
			if ev.Session != nil {
				p.ApplySessionStatus(ctx, ev.Session.Status)
			}
		})
		if err != nil {
			p.logger.Warn("session subscription failed, polling only", zap.Error(err))
		} else {
			handle = h
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.every(gctx, func() time.Duration { return p.engine.timing.Tick }, func() {
			p.Tick(gctx)
		})
	})
	g.Go(func() error {
		return p.every(gctx, p.pollInterval, func() {
			p.pullStatus(gctx)
		})
	})
	g.Go(func() error {
		return p.every(gctx, func() time.Duration { return p.engine.timing.WaitingCheck }, func() {
			p.CheckCompletion(gctx)
			p.pullParticipant(gctx)
		})
	})
	err := g.Wait()

	if handle != nil {
		handle.Unsubscribe()
	}
	p.close()

	if errors.Is(err, errPlayerEnded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// every runs fn on a re-armed timer until ctx is done or the player ends.
func (p *Player) every(ctx context.Context, interval func() time.Duration, fn func()) error {
	for {
		timer := time.NewTimer(interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		fn()
		if p.State() == StateEnded {
			return errPlayerEnded
		}
	}
}

func (p *Player) pollInterval() time.Duration {
	switch p.State() {
	case StateQuestion, StateResults:
		return p.engine.timing.FastPoll
	default:
		return p.engine.timing.StatusPoll
	}
}

func (p *Player) pullStatus(ctx context.Context) {
	session, err := p.engine.store.GetSession(ctx, p.sessionID)
	if err != nil {
		p.logger.Debug("status poll failed", zap.Error(err))
		return
	}
	p.ApplySessionStatus(ctx, session.Status)
}

func (p *Player) pullParticipant(ctx context.Context) {
	row, err := p.engine.store.GetParticipant(ctx, p.participantID)
	if err != nil {
		p.logger.Debug("participant poll failed", zap.Error(err))
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.reconcileLocked(row)
}

func (p *Player) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.stopResultsLocked()
	if p.guard != nil {
		p.guard.Disable()
	}
	p.closed = true
	close(p.updates)
}
