// Package summarize turns the contents of an episode's memories into a short summary.
package summarize

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Summarizer is satisfied by every implementation in this package.
type Summarizer interface {
	Summarize(ctx context.Context, contents []string) (string, error)
}

// ErrNothingToSummarize is returned for empty input.
var ErrNothingToSummarize = errors.New("summarize: no content")

const (
	excerptRunes = 50
	separator    = " → "
)

// Concat stitches the opening of each memory together in order. It needs no
// network and never fails on non-empty input.
type Concat struct{}

func (Concat) Summarize(_ context.Context, contents []string) (string, error) {
	var parts []string
	for _, c := range contents {
		c = strings.Join(strings.Fields(c), " ")
		if c == "" {
			continue
		}
		if r := []rune(c); len(r) > excerptRunes {
			c = string(r[:excerptRunes]) + "…"
		}
		parts = append(parts, c)
	}
	if len(parts) == 0 {
		return "", ErrNothingToSummarize
	}
	return strings.Join(parts, separator), nil
}

// Chain tries each summarizer in turn and returns the first non-empty result.
type Chain struct {
	summarizers []Summarizer
	logger      *zap.Logger
}

func NewChain(logger *zap.Logger, summarizers ...Summarizer) *Chain {
	return &Chain{summarizers: summarizers, logger: logger}
}

func (c *Chain) Summarize(ctx context.Context, contents []string) (string, error) {
	var errs []error
	for _, s := range c.summarizers {
		out, err := s.Summarize(ctx, contents)
		if err == nil && strings.TrimSpace(out) != "" {
			return out, nil
		}
		if err == nil {
			err = errors.New("empty summary")
		}
		c.logger.Debug("summarizer failed, trying next", zap.Error(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrNothingToSummarize
	}
	return "", errors.Join(errs...)
}
