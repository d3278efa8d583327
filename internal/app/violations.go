package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/feed"
	"live-quiz-service/internal/metrics"
)

// DefaultHighSeverityThreshold is the per-type count a row must exceed to
// appear in the high-severity view.
const DefaultHighSeverityThreshold = 9

// ViolationAggregator turns discrete violation reports into per-type counters
// and classifies participants by risk.
type ViolationAggregator struct {
	repo          ViolationRepository
	participants  ParticipantRepository
	publisher     feed.Publisher
	logger        *zap.Logger
	metrics       *metrics.Metrics
	highThreshold int
	now           func() time.Time
}

func NewViolationAggregator(repo ViolationRepository, participants ParticipantRepository, publisher feed.Publisher, logger *zap.Logger, m *metrics.Metrics, highThreshold int) *ViolationAggregator {
	if highThreshold <= 0 {
		highThreshold = DefaultHighSeverityThreshold
	}
	return &ViolationAggregator{
		repo:          repo,
		participants:  participants,
		publisher:     publisher,
		logger:        logger,
		metrics:       m,
		highThreshold: highThreshold,
		now:           time.Now,
	}
}

// Report increments the counter for (session, participant, type). The
// increment is a single atomic upsert in the store.
func (a *ViolationAggregator) Report(ctx context.Context, sessionID, participantID string, violationType domain.ViolationType) error {
	if !violationType.Valid() {
		return fmt.Errorf("unknown violation type %q", violationType)
	}
	row, err := a.repo.IncrementViolation(ctx, sessionID, participantID, violationType, a.now())
	if err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	a.metrics.Violation(string(violationType))

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, feed.Event{Table: feed.TableViolations, Type: feed.EventUpdate, Violation: &row}); err != nil {
			a.logger.Warn("publish violation event failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return nil
}

// FlaggedPlayers sums counts per participant and returns those at medium risk
// or above, highest total first.
func (a *ViolationAggregator) FlaggedPlayers(ctx context.Context, sessionID string) ([]domain.FlaggedPlayer, error) {
	rows, err := a.repo.ListViolations(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	nicknames := a.nicknames(ctx, sessionID)

	byParticipant := make(map[string]*domain.FlaggedPlayer)
	for _, row := range rows {
		row.Severity = domain.SeverityFor(row.ViolationCount)
		fp, ok := byParticipant[row.ParticipantID]
		if !ok {
			fp = &domain.FlaggedPlayer{ParticipantID: row.ParticipantID, Nickname: nicknames[row.ParticipantID]}
			byParticipant[row.ParticipantID] = fp
		}
		fp.TotalViolations += row.ViolationCount
		fp.Violations = append(fp.Violations, row)
	}

	flagged := make([]domain.FlaggedPlayer, 0, len(byParticipant))
	for _, fp := range byParticipant {
		fp.RiskLevel = domain.ClassifyRisk(fp.TotalViolations)
		if fp.RiskLevel == domain.RiskNone {
			continue
		}
		sort.Slice(fp.Violations, func(i, j int) bool {
			return fp.Violations[i].ViolationCount > fp.Violations[j].ViolationCount
		})
		flagged = append(flagged, *fp)
	}
	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].TotalViolations != flagged[j].TotalViolations {
			return flagged[i].TotalViolations > flagged[j].TotalViolations
		}
		return flagged[i].ParticipantID < flagged[j].ParticipantID
	})
	return flagged, nil
}

// HighSeverity returns, per participant, the largest violation row whose own
// count exceeds the high threshold, highest count first.
func (a *ViolationAggregator) HighSeverity(ctx context.Context, sessionID string) ([]domain.SecurityViolation, error) {
	rows, err := a.repo.ListViolations(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}

	worst := make(map[string]domain.SecurityViolation)
	for _, row := range rows {
		if row.ViolationCount <= a.highThreshold {
			continue
		}
		if cur, ok := worst[row.ParticipantID]; !ok || row.ViolationCount > cur.ViolationCount {
			row.Severity = domain.SeverityFor(row.ViolationCount)
			worst[row.ParticipantID] = row
		}
	}

	out := make([]domain.SecurityViolation, 0, len(worst))
	for _, row := range worst {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ViolationCount != out[j].ViolationCount {
			return out[i].ViolationCount > out[j].ViolationCount
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}

func (a *ViolationAggregator) nicknames(ctx context.Context, sessionID string) map[string]string {
	out := make(map[string]string)
	if a.participants == nil {
		return out
	}
	participants, err := a.participants.ListParticipants(ctx, sessionID)
	if err != nil {
		a.logger.Warn("load participants for report failed", zap.String("session_id", sessionID), zap.Error(err))
		return out
	}
	for _, p := range participants {
		out[p.ID] = p.Nickname
	}
	return out
}
