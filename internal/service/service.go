package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"collateral-watch/internal/alerting"
	"collateral-watch/internal/asset"
	"collateral-watch/internal/config"
	"collateral-watch/internal/metrics"
	"collateral-watch/internal/scheduler"
	"collateral-watch/internal/status"
	"collateral-watch/internal/storage"
)

// BlockNumberer reports the current chain head for snapshot annotation.
type BlockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Monitor orchestrates refresh cycles, persistence, metrics, and alerting
// for the admitted token set.
type Monitor struct {
	scheduler *scheduler.Scheduler
	tokens    []asset.Token
	store     storage.SnapshotStore
	events    storage.StatusEventStore
	notifier  alerting.Notifier
	registry  *metrics.Registry
	blocks    BlockNumberer
	logger    zerolog.Logger

	channels  []string
	alertsOn  bool
	cooldown  time.Duration
	lastAlert map[string]time.Time
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the monitoring service.
func New(
	cfg *config.Config,
	sched *scheduler.Scheduler,
	tokens []asset.Token,
	store storage.SnapshotStore,
	events storage.StatusEventStore,
	notifier alerting.Notifier,
	registry *metrics.Registry,
	blocks BlockNumberer,
	logger zerolog.Logger,
) *Monitor {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Monitor{
		scheduler: sched,
		tokens:    tokens,
		store:     store,
		events:    events,
		notifier:  notifier,
		registry:  registry,
		blocks:    blocks,
		logger:    logger.With().Str("component", "monitor").Logger(),
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		cooldown:  cfg.Alerting.Cooldown,
		lastAlert: make(map[string]time.Time),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned refresh loop.
func (m *Monitor) Run(ctx context.Context) error {
	if m.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return m.scheduler.Run(ctx, m.ProcessTick)
}

// ProcessTick refreshes every admitted token once. A single asset failing
// never aborts the tick.
func (m *Monitor) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	defer func() {
		if m.registry != nil {
			m.registry.TickDuration.Observe(time.Since(started).Seconds())
		}
	}()

	var block *int64
	if m.blocks != nil {
		if number, blockErr := m.blocks.BlockNumber(ctx); blockErr == nil && number != 0 {
			value := int64(number)
			block = &value
		}
	}

	for _, tok := range m.tokens {
		m.processToken(ctx, tick, tok, block)
	}

	return nil
}

func (m *Monitor) processToken(ctx context.Context, tick time.Time, tok asset.Token, block *int64) {
	snap := storage.Snapshot{
		Tick:        tick,
		Symbol:      tok.Symbol(),
		Status:      "ASSET",
		BlockNumber: block,
		CreatedAt:   time.Now().UTC(),
	}

	col, isCollateral := asset.AsCollateral(tok)
	if isCollateral {
		transition, changed := col.Refresh(ctx)
		current := col.Status()

		snap.Status = current.String()
		snap.RefPerTok = col.RefPerTok()
		snap.TargetPerRef = col.TargetPerRef()
		snap.PricePerTarget = col.PricePerTarget()

		if m.registry != nil {
			m.registry.RefreshTotal.WithLabelValues(tok.Symbol(), refreshResult(current)).Inc()
			m.registry.StatusGauge.WithLabelValues(tok.Symbol()).Set(float64(current))
		}

		if changed {
			m.recordTransition(ctx, col, transition)
		}
	}

	isFallback, price, priceErr := tok.Price(ctx, true)
	if priceErr != nil {
		msg := priceErr.Error()
		snap.Error = &msg
		if m.registry != nil {
			m.registry.OracleFailures.WithLabelValues(tok.Symbol()).Inc()
		}
		m.logger.Warn().Err(priceErr).Str("symbol", tok.Symbol()).Msg("price unavailable even with fallback")
	} else {
		snap.Price = price
		snap.PriceFallback = isFallback
	}

	if m.store != nil {
		if err := m.store.UpsertSnapshot(ctx, snap); err != nil {
			m.logger.Error().Err(err).Str("symbol", tok.Symbol()).Time("tick", tick).Msg("failed to upsert snapshot")
		}
	}

	m.logger.Info().
		Time("tick", tick).
		Str("symbol", tok.Symbol()).
		Str("status", snap.Status).
		Str("price_uoa", snap.Price.String()).
		Bool("fallback", snap.PriceFallback).
		Msg("asset refreshed")
}

func (m *Monitor) recordTransition(ctx context.Context, col *asset.Collateral, tr status.Transition) {
	if m.registry != nil {
		m.registry.StatusTransitions.WithLabelValues(col.Symbol(), tr.From.String(), tr.To.String()).Inc()
	}

	if m.events != nil {
		record := storage.StatusEvent{
			Symbol:     col.Symbol(),
			FromStatus: tr.From.String(),
			ToStatus:   tr.To.String(),
			Reason:     tr.Reason,
			OccurredAt: tr.OccurredAt,
		}
		if _, err := m.events.InsertStatusEvent(ctx, record); err != nil {
			m.logger.Error().Err(err).Str("symbol", col.Symbol()).Msg("failed to persist status event")
		}
	}

	if !m.alertsOn || m.notifier == nil {
		return
	}
	if last, seen := m.lastAlert[col.Symbol()]; seen && m.cooldown > 0 && time.Since(last) < m.cooldown {
		m.logger.Debug().Str("symbol", col.Symbol()).Msg("status alert suppressed by cooldown")
		return
	}

	note := alerting.Notification{
		Symbol:       col.Symbol(),
		TargetName:   col.TargetName(),
		FromStatus:   tr.From.String(),
		ToStatus:     tr.To.String(),
		Reason:       tr.Reason,
		RefPerTok:    col.RefPerTok(),
		TargetPerRef: col.TargetPerRef(),
		OccurredAt:   tr.OccurredAt,
		Channels:     m.channels,
	}
	if err := m.notifier.Notify(ctx, note); err != nil {
		m.logger.Error().Err(err).Str("symbol", col.Symbol()).Msg("failed to dispatch status alert")
		return
	}
	m.lastAlert[col.Symbol()] = time.Now()
}

// ClaimAll runs the reward claim protocol once for every token with a claim
// plan and reports the emitted RewardsClaimed records per symbol.
func (m *Monitor) ClaimAll(ctx context.Context, delegate asset.Delegate, holder common.Address, claims storage.RewardClaimStore) (map[string][]asset.RewardsClaimed, error) {
	results := make(map[string][]asset.RewardsClaimed)
	var firstErr error

	for _, tok := range m.tokens {
		if (tok.RewardERC20() == common.Address{}) {
			continue
		}

		emitted, err := tok.ClaimRewards(ctx, delegate, holder)
		if err != nil {
			m.logger.Error().Err(err).Str("symbol", tok.Symbol()).Msg("reward claim failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("claim %s: %w", tok.Symbol(), err)
			}
			continue
		}

		for _, event := range emitted {
			if m.registry != nil {
				m.registry.RewardsClaimed.WithLabelValues(tok.Symbol(), event.Token.Hex()).Inc()
			}
			if claims != nil {
				record := storage.RewardClaim{
					Symbol:    tok.Symbol(),
					Token:     event.Token.Hex(),
					Amount:    event.Amount,
					ClaimedAt: time.Now().UTC(),
				}
				if _, err := claims.InsertRewardClaim(ctx, record); err != nil {
					m.logger.Error().Err(err).Str("symbol", tok.Symbol()).Msg("failed to persist reward claim")
				}
			}
		}
		results[tok.Symbol()] = emitted
	}

	return results, firstErr
}

func refreshResult(st status.Status) string {
	if st == status.Sound {
		return "sound"
	}
	return "degraded"
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.lockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
