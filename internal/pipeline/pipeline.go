// Package pipeline turns one analysis result into either an accepted Signal
// or a recorded Rejection. Stages run in a fixed order and short-circuit on
// the first failure, so outcomes are reproducible for identical inputs and
// configuration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/feedhawk/signalscout/internal/logger"
	"github.com/feedhawk/signalscout/internal/models"
	"github.com/feedhawk/signalscout/internal/storage"
)

// CapScope selects the key the daily signal cap counts against.
const (
	CapScopeAccount = "account"
	CapScopeGlobal  = "global"
)

// Config holds the validation thresholds. All values are required and
// validated at startup by the config package.
type Config struct {
	MinConfidence           float64
	MinRiskRewardRatio      float64
	PriceDeviationThreshold float64
	MaxDailySignals         int
	CapScope                string
}

// Deliverer receives accepted signals for notification.
type Deliverer interface {
	Enqueue(sig *models.Signal)
}

// Pipeline validates analysis results against rolling signal history.
type Pipeline struct {
	store   *storage.Storage
	cfg     Config
	deliver Deliverer
	now     func() time.Time
}

// New creates a validation pipeline. deliver may be nil, in which case
// accepted signals are persisted but not enqueued (used by tests).
func New(store *storage.Storage, cfg Config, deliver Deliverer) *Pipeline {
	return &Pipeline{
		store:   store,
		cfg:     cfg,
		deliver: deliver,
		now:     time.Now,
	}
}

// Process runs the validation stages for one analysis result. It returns the
// accepted signal, or the recorded rejection, never both. An error is
// returned only for storage faults; business rejections are outcomes.
//
// Stage order (cheap checks first, fixed for reproducibility):
// duplicate → confidence → risk/reward → price deviation → daily cap.
func (p *Pipeline) Process(ctx context.Context, res models.AnalysisResult) (*models.Signal, *models.Rejection, error) {
	if err := res.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid analysis result: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	now := p.now()

	// Stage 1: duplicate check. The claim is a compare-and-set against
	// storage, so at most one concurrent submission per content ID can
	// proceed past this point, across restarts and workers.
	claimed, err := p.store.ClaimContent(res.ContentID, now)
	if err != nil {
		return nil, nil, err
	}
	if !claimed {
		return p.reject(res, models.ReasonDuplicate, now)
	}

	// Stage 2: confidence gate.
	if res.Confidence < p.cfg.MinConfidence {
		return p.reject(res, models.ReasonLowConfidence, now)
	}

	// Stage 3: risk/reward.
	ratio, ok := riskReward(res)
	if !ok || ratio < p.cfg.MinRiskRewardRatio {
		return p.reject(res, models.ReasonRiskRewardFail, now)
	}
	entry, _ := res.Entry()
	stop, _ := res.Stop()

	// Stage 4: price deviation against the last known reference price.
	// No reference on file means the check is skipped, not failed.
	ref, haveRef, err := p.store.GetReferencePrice(res.Symbol)
	if err != nil {
		return nil, nil, err
	}
	if haveRef && ref > 0 {
		if math.Abs(entry-ref)/ref > p.cfg.PriceDeviationThreshold {
			return p.reject(res, models.ReasonPriceDeviation, now)
		}
	}

	// Stages 5+6: daily cap and acceptance. The cap check, the signal
	// insert, and the counter increment commit in one transaction so
	// concurrent analyses cannot race the counter past the cap.
	sig := &models.Signal{
		ID:         uuid.New().String(),
		AccountID:  res.AccountID,
		ContentID:  res.ContentID,
		Symbol:     res.Symbol,
		Direction:  res.Direction,
		EntryLow:   entry,
		EntryHigh:  entry,
		StopLoss:   stop,
		Targets:    res.Targets(),
		RiskReward: ratio,
		Confidence: res.Confidence,
		Status:     models.StatusPending,
		CreatedAt:  now,
	}
	err = p.store.AcceptSignal(sig, p.capKey(res.AccountID), p.cfg.MaxDailySignals)
	if errors.Is(err, models.ErrDailyCapExceeded) {
		return p.reject(res, models.ReasonDailyCap, now)
	}
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Accepted signal %s: %s %s rr=%.2f confidence=%.2f", sig.ID, sig.Symbol, sig.Direction, ratio, res.Confidence)
	if p.deliver != nil {
		p.deliver.Enqueue(sig)
	}
	return sig, nil, nil
}

func (p *Pipeline) capKey(accountID string) string {
	if p.cfg.CapScope == CapScopeGlobal {
		return "global"
	}
	return "acct:" + accountID
}

func (p *Pipeline) reject(res models.AnalysisResult, reason models.RejectReason, at time.Time) (*models.Signal, *models.Rejection, error) {
	r := &models.Rejection{
		ContentID: res.ContentID,
		AccountID: res.AccountID,
		Reason:    reason,
		CreatedAt: at,
	}
	if err := p.store.AddRejection(r); err != nil {
		return nil, nil, err
	}
	logger.Debug("Rejected content %s: %s", res.ContentID, reason)
	return nil, r, nil
}

// riskReward derives the ratio (target distance ÷ stop distance) from the
// ordered price levels and the suggested direction. It reports ok=false when
// the levels cannot yield a valid stop/target pair: fewer than three levels,
// entry equal to stop, no tradable direction, or levels inconsistent with
// the direction (a long whose nearest target sits below entry, and the
// mirror case for shorts).
func riskReward(res models.AnalysisResult) (ratio float64, ok bool) {
	if res.Direction != models.DirectionLong && res.Direction != models.DirectionShort {
		return 0, false
	}
	entry, haveEntry := res.Entry()
	stop, haveStop := res.Stop()
	targets := res.Targets()
	if !haveEntry || !haveStop || len(targets) == 0 {
		return 0, false
	}

	var risk, reward float64
	switch res.Direction {
	case models.DirectionLong:
		// Conservative: measure reward to the nearest target.
		target := targets[0]
		for _, t := range targets[1:] {
			if t < target {
				target = t
			}
		}
		risk = entry - stop
		reward = target - entry
	case models.DirectionShort:
		target := targets[0]
		for _, t := range targets[1:] {
			if t > target {
				target = t
			}
		}
		risk = stop - entry
		reward = entry - target
	}
	if risk <= 0 || reward <= 0 {
		return 0, false
	}
	return reward / risk, true
}
