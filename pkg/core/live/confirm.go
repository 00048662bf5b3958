package live

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Translator performs a one-shot text translation.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// ConfirmerOptions tune a Confirmer.
type ConfirmerOptions struct {
	// Timeout bounds each translation call. Default: 10s.
	Timeout time.Duration
	// MaxInFlight caps concurrent confirmations; extra requests are skipped.
	// Default: 4.
	MaxInFlight int
	Logger      *slog.Logger
	Metrics     MetricsRecorder
}

// Confirmer re-translates the translated text of a record back into the
// speaker's language so the speaker can check what the listener heard.
//
// Work runs detached from the session that requested it: a confirmation that
// lands after teardown is simply discarded by the receiver.
type Confirmer struct {
	translator Translator
	timeout    time.Duration
	sem        chan struct{}
	logger     *slog.Logger
	metrics    MetricsRecorder
	wg         sync.WaitGroup
}

// NewConfirmer returns a Confirmer. A nil translator disables confirmation.
func NewConfirmer(translator Translator, opts ConfirmerOptions) *Confirmer {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Confirmer{
		translator: translator,
		timeout:    opts.Timeout,
		sem:        make(chan struct{}, opts.MaxInFlight),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Confirm translates text from currentLanguage into speakerLanguage and calls
// deliver with the result. It returns immediately; false means the request was
// skipped (no translator, empty text, or too many in flight).
func (c *Confirmer) Confirm(recordID, text, currentLanguage, speakerLanguage string, deliver func(id, text string)) bool {
	if c == nil || c.translator == nil || deliver == nil {
		return false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	select {
	case c.sem <- struct{}{}:
	default:
		c.logger.Debug("confirmation skipped, too many in flight", "record_id", recordID)
		c.metrics.RecordConfirmation("skipped")
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		out, err := c.translator.Translate(ctx, text, currentLanguage, speakerLanguage)
		if err != nil {
			c.logger.Warn("confirmation failed", "record_id", recordID, "error", err)
			c.metrics.RecordConfirmation("error")
			return
		}
		out = strings.TrimSpace(out)
		if out == "" {
			c.metrics.RecordConfirmation("empty")
			return
		}
		c.metrics.RecordConfirmation("ok")
		deliver(recordID, out)
	}()
	return true
}

// Wait blocks until every in-flight confirmation has finished.
func (c *Confirmer) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}
