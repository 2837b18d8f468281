package translate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultTimeout = 10 * time.Second

// Job is one message to enrich for one reader.
type Job struct {
	Key       string // stable message identity; concurrent jobs with the same key and text share a call
	Text      string
	Sender    Profile
	Recipient Profile
}

// Enrichment is what a job produced. Skipped means no translation is needed.
type Enrichment struct {
	Skipped    bool
	Text       string
	SourceLang string
	TargetLang string
}

// Enricher runs translation jobs with a per-call timeout and collapses
// duplicate in-flight jobs.
type Enricher struct {
	tr      Translator
	timeout time.Duration
	group   singleflight.Group
}

func NewEnricher(tr Translator, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Enricher{tr: tr, timeout: timeout}
}

func (e *Enricher) Enrich(ctx context.Context, job Job) (Enrichment, error) {
	const op = "translate.Enrich"
	if job.Text == "" || CoveredBy(job.Sender, job.Recipient) {
		return Enrichment{Skipped: true}, nil
	}
	if e.tr == nil {
		return Enrichment{}, fmt.Errorf("%s: %w", op, ErrNoBackend)
	}

	v, err, _ := e.group.Do(job.Key+"\x00"+job.Text, func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.run(ctx, job)
	})
	if err != nil {
		return Enrichment{}, fmt.Errorf("%s: %w", op, err)
	}
	return v.(Enrichment), nil
}

func (e *Enricher) run(ctx context.Context, job Job) (Enrichment, error) {
	target, ok, err := e.tr.DecideTarget(ctx, job.Text, job.Recipient.Known, job.Recipient.Preferred)
	if err != nil {
		return Enrichment{}, err
	}
	if !ok {
		return Enrichment{Skipped: true}, nil
	}
	res, err := e.tr.Translate(ctx, job.Text, target)
	if err != nil {
		return Enrichment{}, fmt.Errorf("translate to %s: %w", target, err)
	}
	return Enrichment{
		Text:       res.Text,
		SourceLang: res.DetectedLang,
		TargetLang: target,
	}, nil
}
