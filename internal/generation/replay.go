package generation

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/studytree-ai/internal/store/treestore"
	"go.uber.org/zap"
)

type ReplayVerdict int

const (
	// ReplayDone: the artifact is in the store, or already was.
	ReplayDone ReplayVerdict = iota
	// ReplayRetry: the publish failed again and attempts remain.
	ReplayRetry
	// ReplayGiveUp: out of attempts, or nothing replayable exists.
	ReplayGiveUp
)

func (v ReplayVerdict) String() string {
	switch v {
	case ReplayDone:
		return "done"
	case ReplayRetry:
		return "retry"
	default:
		return "give_up"
	}
}

// ReplayPublish republishes a pending artifact under its original RequestId.
// The store returns the existing record if an earlier attempt did land.
func (s *Service) ReplayPublish(ctx context.Context, requestID string, maxAttempts int) (ReplayVerdict, error) {
	if s.ledger == nil {
		return ReplayGiveUp, fmt.Errorf("replay %s: no ledger configured", requestID)
	}
	log := s.log.With(zap.String("request_id", requestID))

	g, err := s.ledger.GetByRequestID(ctx, requestID)
	if err != nil {
		return ReplayGiveUp, fmt.Errorf("replay %s: %w", requestID, err)
	}
	switch g.Status {
	case StatusPublishPending:
	case StatusDone:
		// duplicate delivery
		return ReplayDone, nil
	default:
		return ReplayGiveUp, fmt.Errorf("replay %s: status %s is not replayable", requestID, g.Status)
	}
	if g.Response == nil {
		return ReplayGiveUp, fmt.Errorf("replay %s: no stored response", requestID)
	}

	a := treestore.Artifact{
		RequestID: g.RequestID,
		NodeID:    g.NodeID,
		Kind:      g.Kind,
		Response:  *g.Response,
		ModelName: g.ModelName,
		TokensIn:  g.TokensIn,
		TokensOut: g.TokensOut,
		CreatedBy: g.UserID,
		Partial:   g.Partial,
	}
	if g.Prompt != nil {
		a.Prompt = *g.Prompt
	}

	persisted, err := s.publish(ctx, a)
	if err != nil {
		attempts, aerr := s.ledger.RecordPublishAttempt(ctx, requestID, err.Error())
		if aerr != nil {
			log.Error("ledger: record publish attempt", zap.Error(aerr))
		}
		if maxAttempts > 0 && attempts >= maxAttempts {
			if merr := s.ledger.MarkFailed(ctx, requestID, StatusPublishFailed, err.Error()); merr != nil {
				log.Error("ledger: mark failed", zap.Error(merr))
			}
			log.Error("publish replay exhausted",
				zap.Int("attempts", attempts),
				zap.String("outcome", OutcomeDeliveredPublishFailed),
				zap.Error(err))
			return ReplayGiveUp, err
		}
		log.Warn("publish replay failed", zap.Int("attempts", attempts), zap.Error(err))
		return ReplayRetry, err
	}

	if err := s.ledger.MarkDone(ctx, requestID, a, persisted); err != nil {
		log.Error("ledger: mark done", zap.Error(err))
	}
	outcome := OutcomeDone
	if a.Partial {
		outcome = OutcomePartialPublished
	}
	log.Info("publish replayed",
		zap.String("state", string(StateDone)),
		zap.String("outcome", outcome),
		zap.Int64("artifact_id", persisted.ID))
	return ReplayDone, nil
}
