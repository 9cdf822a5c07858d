package strategy

import (
	"sync"
	"time"
)

const (
	SkipReasonCooldown = "cooldown"
	SkipReasonWinRate  = "win_rate"

	minWinRateSamples = 3
)

type TrackerConfig struct {
	HistorySize     int
	CooldownScans   int64
	WinRateFloor    float64
	LossStreakLimit int
	PauseDuration   time.Duration
}

type TrackerOutcome struct {
	Won   bool  `msgpack:"won"`
	Cycle int64 `msgpack:"cycle"`
}

// TrackerState is the serializable form of a DirectionTracker, persisted
// across restarts so a fresh process does not forget recent losses.
type TrackerState struct {
	History           map[string][]TrackerOutcome `msgpack:"history"`
	CooldownUntil     map[string]int64            `msgpack:"cooldown_until"`
	ConsecutiveWins   map[string]int              `msgpack:"consecutive_wins"`
	ConsecutiveLosses map[string]int              `msgpack:"consecutive_losses"`
	PausedUntilMS     int64                       `msgpack:"paused_until_ms"`
}

// DirectionTracker keeps a bounded per-direction memory of recent trade
// outcomes for one instrument and suppresses a direction after a loss or a
// sustained poor win rate. Mutated only from within a cycle.
type DirectionTracker struct {
	mu                sync.Mutex
	cfg               TrackerConfig
	now               func() time.Time
	history           map[Direction][]TrackerOutcome
	cooldownUntil     map[Direction]int64
	consecutiveWins   map[Direction]int
	consecutiveLosses map[Direction]int
	pausedUntil       time.Time
}

func NewDirectionTracker(cfg TrackerConfig) *DirectionTracker {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 10
	}
	if cfg.CooldownScans <= 0 {
		cfg.CooldownScans = 3
	}
	if cfg.WinRateFloor <= 0 {
		cfg.WinRateFloor = 0.20
	}
	if cfg.LossStreakLimit <= 0 {
		cfg.LossStreakLimit = 3
	}
	if cfg.PauseDuration <= 0 {
		cfg.PauseDuration = 30 * time.Minute
	}
	return &DirectionTracker{
		cfg:               cfg,
		now:               time.Now,
		history:           make(map[Direction][]TrackerOutcome),
		cooldownUntil:     make(map[Direction]int64),
		consecutiveWins:   make(map[Direction]int),
		consecutiveLosses: make(map[Direction]int),
	}
}

// RecordTrade appends a closed trade's outcome. Losses arm the cooldown
// window; a loss streak across the configured count pauses the whole
// instrument for a time-boxed window.
func (t *DirectionTracker) RecordTrade(dir Direction, won bool, cycle int64) {
	if dir != Long && dir != Short {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	hist := append(t.history[dir], TrackerOutcome{Won: won, Cycle: cycle})
	if len(hist) > t.cfg.HistorySize {
		hist = hist[len(hist)-t.cfg.HistorySize:]
	}
	t.history[dir] = hist

	if won {
		t.consecutiveWins[dir]++
		t.consecutiveLosses[dir] = 0
		t.consecutiveWins[opposite(dir)] = 0
		return
	}
	t.cooldownUntil[dir] = cycle + t.cfg.CooldownScans
	t.consecutiveWins[dir] = 0
	t.consecutiveLosses[dir]++
	if t.consecutiveLosses[dir] >= t.cfg.LossStreakLimit {
		t.pausedUntil = t.now().Add(t.cfg.PauseDuration)
	}
}

// ShouldSkip reports whether new entries in dir are suppressed at the given
// cycle, and why.
func (t *DirectionTracker) ShouldSkip(dir Direction, cycle int64) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if until, ok := t.cooldownUntil[dir]; ok && cycle <= until {
		return true, SkipReasonCooldown
	}
	hist := t.history[dir]
	if len(hist) >= minWinRateSamples {
		wins := 0
		for _, o := range hist {
			if o.Won {
				wins++
			}
		}
		if float64(wins)/float64(len(hist)) < t.cfg.WinRateFloor {
			return true, SkipReasonWinRate
		}
	}
	return false, ""
}

// Paused reports whether the instrument-wide loss-streak pause is active.
func (t *DirectionTracker) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Before(t.pausedUntil)
}

func (t *DirectionTracker) ConsecutiveWins(dir Direction) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveWins[dir]
}

// State copies the tracker into its serializable form.
func (t *DirectionTracker) State() TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := TrackerState{
		History:           make(map[string][]TrackerOutcome, len(t.history)),
		CooldownUntil:     make(map[string]int64, len(t.cooldownUntil)),
		ConsecutiveWins:   make(map[string]int, len(t.consecutiveWins)),
		ConsecutiveLosses: make(map[string]int, len(t.consecutiveLosses)),
	}
	for dir, hist := range t.history {
		state.History[string(dir)] = append([]TrackerOutcome(nil), hist...)
	}
	for dir, until := range t.cooldownUntil {
		state.CooldownUntil[string(dir)] = until
	}
	for dir, wins := range t.consecutiveWins {
		state.ConsecutiveWins[string(dir)] = wins
	}
	for dir, losses := range t.consecutiveLosses {
		state.ConsecutiveLosses[string(dir)] = losses
	}
	if !t.pausedUntil.IsZero() {
		state.PausedUntilMS = t.pausedUntil.UnixMilli()
	}
	return state
}

// Restore overwrites the tracker from a persisted state.
func (t *DirectionTracker) Restore(state TrackerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = make(map[Direction][]TrackerOutcome, len(state.History))
	t.cooldownUntil = make(map[Direction]int64, len(state.CooldownUntil))
	t.consecutiveWins = make(map[Direction]int, len(state.ConsecutiveWins))
	t.consecutiveLosses = make(map[Direction]int, len(state.ConsecutiveLosses))
	for dir, hist := range state.History {
		trimmed := hist
		if len(trimmed) > t.cfg.HistorySize {
			trimmed = trimmed[len(trimmed)-t.cfg.HistorySize:]
		}
		t.history[Direction(dir)] = append([]TrackerOutcome(nil), trimmed...)
	}
	for dir, until := range state.CooldownUntil {
		t.cooldownUntil[Direction(dir)] = until
	}
	for dir, wins := range state.ConsecutiveWins {
		t.consecutiveWins[Direction(dir)] = wins
	}
	for dir, losses := range state.ConsecutiveLosses {
		t.consecutiveLosses[Direction(dir)] = losses
	}
	t.pausedUntil = time.Time{}
	if state.PausedUntilMS > 0 {
		t.pausedUntil = time.UnixMilli(state.PausedUntilMS)
	}
}

func opposite(dir Direction) Direction {
	if dir == Long {
		return Short
	}
	return Long
}
