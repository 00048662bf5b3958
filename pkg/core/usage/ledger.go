// Package usage accounts for the tokens and cost of translation sessions.
//
// The remote endpoint reports cumulative per-session totals, and the engine
// estimates the fields it does not report. Each token field is owned by the
// estimate until a report carries a value for it. Lifetime counters only grow
// by the amount a field rises above the highest value already counted in the
// session, so a session reset, a repeated report or a report that omits a
// field never double counts.
package usage

import (
	"context"
	"errors"
	"math"
	"sync"
	"unicode/utf8"
)

// Counters holds token and cost totals.
type Counters struct {
	InputTextTokens   int64   `json:"inputTextTokens" yaml:"input_text_tokens"`
	InputAudioTokens  int64   `json:"inputAudioTokens" yaml:"input_audio_tokens"`
	OutputTextTokens  int64   `json:"outputTextTokens" yaml:"output_text_tokens"`
	OutputAudioTokens int64   `json:"outputAudioTokens" yaml:"output_audio_tokens"`
	CostUSD           float64 `json:"costUsd" yaml:"cost_usd"`
}

// InputTokens returns text plus audio input tokens.
func (c Counters) InputTokens() int64 { return c.InputTextTokens + c.InputAudioTokens }

// OutputTokens returns text plus audio output tokens.
func (c Counters) OutputTokens() int64 { return c.OutputTextTokens + c.OutputAudioTokens }

// IsZero reports whether nothing has been counted.
func (c Counters) IsZero() bool { return c == Counters{} }

// Snapshot is a consistent view of both counter sets.
type Snapshot struct {
	Session  Counters `json:"session"`
	Lifetime Counters `json:"lifetime"`
}

// PriceTable holds USD prices per one million tokens.
type PriceTable struct {
	InputText   float64 `yaml:"input_text"`
	InputAudio  float64 `yaml:"input_audio"`
	OutputText  float64 `yaml:"output_text"`
	OutputAudio float64 `yaml:"output_audio"`
}

// DefaultPrices returns list prices for a native-audio live model.
func DefaultPrices() PriceTable {
	return PriceTable{
		InputText:   0.50,
		InputAudio:  3.00,
		OutputText:  2.00,
		OutputAudio: 12.00,
	}
}

// Cost prices a set of token counts. CostUSD on the input is ignored.
func (p PriceTable) Cost(c Counters) float64 {
	const perToken = 1.0 / 1_000_000
	return (float64(c.InputTextTokens)*p.InputText +
		float64(c.InputAudioTokens)*p.InputAudio +
		float64(c.OutputTextTokens)*p.OutputText +
		float64(c.OutputAudioTokens)*p.OutputAudio) * perToken
}

// Estimator converts raw quantities into token estimates.
type Estimator struct {
	AudioTokensPerSecond float64
	CharsPerToken        float64
}

// DefaultEstimator is about one token per second of audio and one token per four
// characters of text.
func DefaultEstimator() Estimator {
	return Estimator{AudioTokensPerSecond: 1, CharsPerToken: 4}
}

// AudioTokens estimates tokens for a duration of audio.
func (e Estimator) AudioTokens(seconds float64) int64 {
	if seconds <= 0 || e.AudioTokensPerSecond <= 0 {
		return 0
	}
	return int64(math.Ceil(seconds * e.AudioTokensPerSecond))
}

// TextTokens estimates tokens for a number of characters.
func (e Estimator) TextTokens(chars int) int64 {
	if chars <= 0 || e.CharsPerToken <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(chars) / e.CharsPerToken))
}

// Options configure a Ledger.
type Options struct {
	Prices    PriceTable
	Estimator Estimator
	// Store persists lifetime counters under Owner. Optional.
	Store Store
	Owner string
}

// Ledger tracks session and lifetime usage. It is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	prices     PriceTable
	estimator  Estimator
	multiplier float64
	store      Store
	owner      string

	session  Counters
	lifetime Counters

	// Raw cumulative quantities behind the local estimates for this session.
	inputSeconds  float64
	outputSeconds float64
	outputChars   int

	// Per token field, in tokenFields order.
	reported [numTokenFields]int64
	owned    [numTokenFields]bool
	counted  [numTokenFields]int64
}

const numTokenFields = 4

func (c Counters) tokenFields() [numTokenFields]int64 {
	return [numTokenFields]int64{c.InputTextTokens, c.InputAudioTokens, c.OutputTextTokens, c.OutputAudioTokens}
}

func countersFromFields(f [numTokenFields]int64) Counters {
	return Counters{
		InputTextTokens:   f[0],
		InputAudioTokens:  f[1],
		OutputTextTokens:  f[2],
		OutputAudioTokens: f[3],
	}
}

// NewLedger returns an empty ledger.
func NewLedger(opts Options) *Ledger {
	if opts.Prices == (PriceTable{}) {
		opts.Prices = DefaultPrices()
	}
	if opts.Estimator == (Estimator{}) {
		opts.Estimator = DefaultEstimator()
	}
	return &Ledger{
		prices:     opts.Prices,
		estimator:  opts.Estimator,
		multiplier: 1,
		store:      opts.Store,
		owner:      opts.Owner,
	}
}

// SetCostMultiplier scales the cost of subsequent deltas.
func (l *Ledger) SetCostMultiplier(m float64) {
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		m = 1
	}
	l.mu.Lock()
	l.multiplier = m
	l.mu.Unlock()
}

// RecordAudio adds seconds of sent and received audio to the session estimate.
func (l *Ledger) RecordAudio(inputSeconds, outputSeconds float64) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if inputSeconds > 0 {
		l.inputSeconds += inputSeconds
	}
	if outputSeconds > 0 {
		l.outputSeconds += outputSeconds
	}
	return l.reconcileLocked()
}

// RecordText adds characters of received text to the session estimate.
func (l *Ledger) RecordText(outputChars int) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if outputChars > 0 {
		l.outputChars += outputChars
	}
	return l.reconcileLocked()
}

// RecordTextString is RecordText for a string, counted in runes.
func (l *Ledger) RecordTextString(s string) Snapshot {
	return l.RecordText(utf8.RuneCountInString(s))
}

// Update reconciles a cumulative session report. A non-zero field takes over
// that counter from the local estimate; a zero field counts as not reported.
// This is the only path by which provider totals reach the lifetime counters.
func (l *Ledger) Update(cumulative Counters) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, v := range cumulative.tokenFields() {
		if v > 0 {
			l.owned[i] = true
			l.reported[i] = v
		}
	}
	return l.reconcileLocked()
}

func (l *Ledger) estimateLocked() [numTokenFields]int64 {
	return Counters{
		InputAudioTokens:  l.estimator.AudioTokens(l.inputSeconds),
		OutputAudioTokens: l.estimator.AudioTokens(l.outputSeconds),
		OutputTextTokens:  l.estimator.TextTokens(l.outputChars),
	}.tokenFields()
}

// reconcileLocked recomputes the session counters from the estimate and the
// reported fields, then adds to lifetime whatever rose above the session's
// high-water mark.
func (l *Ledger) reconcileLocked() Snapshot {
	next := l.estimateLocked()
	var delta [numTokenFields]int64
	for i := range next {
		if l.owned[i] {
			next[i] = l.reported[i]
		}
		delta[i] = max(next[i]-l.counted[i], 0)
		l.counted[i] = max(l.counted[i], next[i])
	}
	d := countersFromFields(delta)
	cost := l.prices.Cost(d) * l.multiplier

	session := countersFromFields(next)
	session.CostUSD = l.session.CostUSD + cost
	l.session = session

	l.lifetime.InputTextTokens += d.InputTextTokens
	l.lifetime.InputAudioTokens += d.InputAudioTokens
	l.lifetime.OutputTextTokens += d.OutputTextTokens
	l.lifetime.OutputAudioTokens += d.OutputAudioTokens
	l.lifetime.CostUSD += cost

	return Snapshot{Session: l.session, Lifetime: l.lifetime}
}

// Snapshot returns the current counters.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{Session: l.session, Lifetime: l.lifetime}
}

// ResetSession zeroes the session counters. Lifetime is untouched.
func (l *Ledger) ResetSession() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = Counters{}
	l.inputSeconds = 0
	l.outputSeconds = 0
	l.outputChars = 0
	l.reported = [numTokenFields]int64{}
	l.owned = [numTokenFields]bool{}
	l.counted = [numTokenFields]int64{}
}

// ResetLifetime zeroes the lifetime counters. It is the only way they decrease.
func (l *Ledger) ResetLifetime() {
	l.mu.Lock()
	l.lifetime = Counters{}
	l.mu.Unlock()
}

// ErrNoStore is returned by Load and Persist when the ledger has no store.
var ErrNoStore = errors.New("usage: no store configured")

// Load seeds lifetime counters from the store. Counters already accumulated in
// this process are kept when they exceed the stored value.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return ErrNoStore
	}
	stored, err := l.store.LoadLifetime(ctx, l.owner)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.lifetime = maxCounters(l.lifetime, stored)
	l.mu.Unlock()
	return nil
}

// Persist writes lifetime counters to the store.
func (l *Ledger) Persist(ctx context.Context) error {
	if l.store == nil {
		return ErrNoStore
	}
	l.mu.Lock()
	lifetime := l.lifetime
	l.mu.Unlock()
	return l.store.SaveLifetime(ctx, l.owner, lifetime)
}

// HasStore reports whether Persist has somewhere to write.
func (l *Ledger) HasStore() bool { return l.store != nil }

func maxCounters(a, b Counters) Counters {
	return Counters{
		InputTextTokens:   max(a.InputTextTokens, b.InputTextTokens),
		InputAudioTokens:  max(a.InputAudioTokens, b.InputAudioTokens),
		OutputTextTokens:  max(a.OutputTextTokens, b.OutputTextTokens),
		OutputAudioTokens: max(a.OutputAudioTokens, b.OutputAudioTokens),
		CostUSD:           math.Max(a.CostUSD, b.CostUSD),
	}
}
