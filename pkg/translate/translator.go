package translate

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoBackend = errors.New("translate: no backend")

type Result struct {
	Text         string
	DetectedLang string
}

// Translator is the provider contract the engine calls.
type Translator interface {
	// DecideTarget returns the language text should be translated into for
	// a reader of known/preferred, or false when no translation is needed.
	DecideTarget(ctx context.Context, text string, known []string, preferred string) (string, bool, error)
	Translate(ctx context.Context, text, target string) (Result, error)
}

// Backend is a raw detection and translation provider.
type Backend interface {
	Detect(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, target string) (Result, error)
}

// WithPolicy wraps b so that DecideTarget detects the source language and
// applies Target to it.
func WithPolicy(b Backend) Translator {
	return policyTranslator{b: b}
}

type policyTranslator struct {
	b Backend
}

func (p policyTranslator) DecideTarget(ctx context.Context, text string, known []string, preferred string) (string, bool, error) {
	const op = "translate.DecideTarget"
	if p.b == nil {
		return "", false, fmt.Errorf("%s: %w", op, ErrNoBackend)
	}
	src, err := p.b.Detect(ctx, text)
	if err != nil {
		return "", false, fmt.Errorf("%s: detect: %w", op, err)
	}
	target, ok := Target(src, known, preferred)
	return target, ok, nil
}

func (p policyTranslator) Translate(ctx context.Context, text, target string) (Result, error) {
	if p.b == nil {
		return Result{}, fmt.Errorf("translate.Translate: %w", ErrNoBackend)
	}
	return p.b.Translate(ctx, text, target)
}
