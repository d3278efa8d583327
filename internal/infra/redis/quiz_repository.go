package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// QuizLoader fetches quiz content and questions from a backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches normalized quiz snapshots in Redis and falls back to a
// loader on cache miss. Snapshots are stored as JSON under quiz:{quizID}; a
// started session's snapshot lives under session:{sessionID}:quiz until it is
// released or pinTTL passes.
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	pinTTL time.Duration
	logger *zap.Logger
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl, pinTTL time.Duration, logger *zap.Logger) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		pinTTL: pinTTL,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if quiz, ok := r.cached(ctx, quizID); ok {
			return quiz, nil
		}

		loaded, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		quiz, err := loaded.Normalize()
		if err != nil {
			return domain.Quiz{}, err
		}

		raw, err := json.Marshal(quiz)
		if err == nil {
			err = r.client.Set(ctx, r.key(quizID), raw, r.ttlWithJitter()).Err()
		}
		if err != nil {
			r.logger.Warn("cache quiz failed", zap.String("quiz_id", quizID), zap.Error(err))
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// PinSession fixes the snapshot a session plays. The first writer wins across
// instances; later calls return the stored snapshot.
func (r *QuizRepository) PinSession(ctx context.Context, sessionID, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.read(ctx, r.sessionKey(sessionID)); ok {
		return quiz, nil
	}

	quiz, err := r.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	raw, err := json.Marshal(quiz)
	if err != nil {
		return domain.Quiz{}, err
	}
	set, err := r.client.SetNX(ctx, r.sessionKey(sessionID), raw, r.pinTTL).Result()
	if err != nil {
		return domain.Quiz{}, err
	}
	if !set {
		if existing, ok := r.read(ctx, r.sessionKey(sessionID)); ok {
			return existing, nil
		}
	}
	return quiz, nil
}

// SessionQuiz returns the session's pinned snapshot, or the cached quiz for a
// session that has not started yet.
func (r *QuizRepository) SessionQuiz(ctx context.Context, sessionID, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.read(ctx, r.sessionKey(sessionID)); ok {
		return quiz, nil
	}
	return r.GetQuiz(ctx, quizID)
}

func (r *QuizRepository) ReleaseSession(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.sessionKey(sessionID)).Err()
}

func (r *QuizRepository) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	return r.read(ctx, r.key(quizID))
}

func (r *QuizRepository) read(ctx context.Context, key string) (domain.Quiz, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("read cached quiz failed", zap.String("key", key), zap.Error(err))
		}
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		r.logger.Warn("decode cached quiz failed", zap.String("key", key), zap.Error(err))
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (r *QuizRepository) key(quizID string) string {
	return "quiz:" + quizID
}

func (r *QuizRepository) sessionKey(sessionID string) string {
	return "session:" + sessionID + ":quiz"
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
