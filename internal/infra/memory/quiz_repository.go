package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// QuizLoader fetches quiz content and questions from a backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches normalized quiz snapshots with TTL to avoid repeated
// DB hits. Started sessions are pinned to their own snapshot, which outlives
// the cache entry until the session is released.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu     sync.RWMutex
	cache  map[string]cachedQuiz
	pinned map[string]domain.Quiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuiz),
		pinned: make(map[string]domain.Quiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[quizID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.quiz, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[quizID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.quiz, nil
		}
		r.mu.RUnlock()

		loaded, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		quiz, err := loaded.Normalize()
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// PinSession fixes the snapshot a session plays. Pinning an already pinned
// session returns the existing snapshot.
func (r *QuizRepository) PinSession(ctx context.Context, sessionID, quizID string) (domain.Quiz, error) {
	r.mu.RLock()
	quiz, ok := r.pinned[sessionID]
	r.mu.RUnlock()
	if ok {
		return quiz, nil
	}

	quiz, err := r.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.pinned[sessionID]; ok {
		return existing, nil
	}
	r.pinned[sessionID] = quiz
	return quiz, nil
}

// SessionQuiz returns the session's pinned snapshot, or the cached quiz for a
// session that has not started yet.
func (r *QuizRepository) SessionQuiz(ctx context.Context, sessionID, quizID string) (domain.Quiz, error) {
	r.mu.RLock()
	quiz, ok := r.pinned[sessionID]
	r.mu.RUnlock()
	if ok {
		return quiz, nil
	}
	return r.GetQuiz(ctx, quizID)
}

func (r *QuizRepository) ReleaseSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pinned, sessionID)
	return nil
}

// StaticQuizLoader is a loader backed by an in-memory map, used for demos and tests.
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
