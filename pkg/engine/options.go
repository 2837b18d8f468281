package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roboricindustries/raycon-chatsync/pkg/typing"
)

// Options tunes timing and behaviour of an Engine. Durations use Go syntax
// in YAML ("3s", "250ms").
type Options struct {
	TypingIdle         time.Duration `yaml:"typing_idle"`
	TypingDebounce     time.Duration `yaml:"typing_debounce"`
	ReceiptBatchWindow time.Duration `yaml:"receipt_batch_window"` // 0 sends receipts immediately
	PublishTimeout     time.Duration `yaml:"publish_timeout"`
	PersistTimeout     time.Duration `yaml:"persist_timeout"`
	TranslateTimeout   time.Duration `yaml:"translate_timeout"`
	TopicPrefix        string        `yaml:"topic_prefix"`
	TranslateIncoming  bool          `yaml:"translate_incoming"`
}

func DefaultOptions() Options {
	return Options{
		TypingIdle:       typing.DefaultIdle,
		TypingDebounce:   typing.DefaultDebounce,
		PublishTimeout:   5 * time.Second,
		PersistTimeout:   15 * time.Second,
		TranslateTimeout: 10 * time.Second,
		TopicPrefix:      "chat.",
	}
}

// ParseOptions reads YAML on top of DefaultOptions.
func ParseOptions(b []byte) (Options, error) {
	const op = "engine.ParseOptions"
	o := DefaultOptions()
	if err := yaml.Unmarshal(b, &o); err != nil {
		return Options{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := o.Validate(); err != nil {
		return Options{}, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

func LoadOptions(path string) (Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("engine.LoadOptions: %w", err)
	}
	return ParseOptions(b)
}

func (o Options) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("typing_idle", o.TypingIdle)
	positive("publish_timeout", o.PublishTimeout)
	positive("persist_timeout", o.PersistTimeout)
	positive("translate_timeout", o.TranslateTimeout)
	if o.TypingDebounce < 0 {
		errs = append(errs, fmt.Errorf("typing_debounce must not be negative, got %s", o.TypingDebounce))
	}
	if o.ReceiptBatchWindow < 0 {
		errs = append(errs, fmt.Errorf("receipt_batch_window must not be negative, got %s", o.ReceiptBatchWindow))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
