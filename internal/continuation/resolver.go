// Package continuation decides whether a newly scanned page opens with the
// rest of a sentence broken off at the end of the previous page.
package continuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sangwookny/wagner/internal/alignment"
)

// Threshold is the confidence a proposal must exceed to be actionable.
const Threshold = 0.7

const (
	// TailRunes is how much of the previous page's Korean text is compared.
	TailRunes = 100
	// HeadRunes bounds the new page's leading content.
	HeadRunes = 200
)

var ErrInvalidDecision = errors.New("invalid continuation decision")

// Proposal is the collaborator's verdict on a page boundary. It lives only
// until the caller decides; it is never stored.
type Proposal struct {
	IsContinuation bool    `json:"is_continuation"`
	Confidence     float64 `json:"confidence"`
	MergedText     string  `json:"merged_text"`
}

// Actionable reports whether p requires an explicit merge decision.
func (p *Proposal) Actionable() bool {
	return p != nil && p.IsContinuation && p.Confidence > Threshold
}

// Detector asks an external text collaborator whether head continues tail.
type Detector interface {
	DetectContinuation(ctx context.Context, previousTail, newHead string) (*Proposal, error)
}

// Decision is the caller's answer to an actionable proposal.
type Decision string

const (
	Merge    Decision = "merge"
	Separate Decision = "separate"
)

// ParseDecision accepts "merge" and "separate" (case-insensitive).
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case Merge, Separate:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
}

// Outcome is what a resolved proposal contributes to the new page.
type Outcome struct {
	// ContinuationText is the merged sentence for display on the new page;
	// empty when the pages were kept separate.
	ContinuationText string
}

// Resolve applies d to p. The previous page is never part of the outcome.
func Resolve(p *Proposal, d Decision) (Outcome, error) {
	switch d {
	case Merge:
		if p == nil {
			return Outcome{}, nil
		}
		return Outcome{ContinuationText: p.MergedText}, nil
	case Separate:
		return Outcome{}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidDecision, d)
	}
}

// Resolver applies the threshold policy to continuation proposals.
type Resolver struct {
	detector Detector
	splitter *alignment.Splitter
}

// NewResolver creates a resolver. detector may be nil, in which case only
// proposals reported alongside a translation are considered.
func NewResolver(detector Detector, splitter *alignment.Splitter) *Resolver {
	return &Resolver{detector: detector, splitter: splitter}
}

// Propose evaluates the boundary between previousKorean and newKorean. It
// returns a proposal only when one is actionable; nil means the new page is
// committed standalone. A reported proposal, when present, is used instead
// of asking the detector.
func (r *Resolver) Propose(ctx context.Context, previousKorean, newKorean string, reported *Proposal) (*Proposal, error) {
	if strings.TrimSpace(previousKorean) == "" || strings.TrimSpace(newKorean) == "" {
		return nil, nil
	}

	p := reported
	if p == nil && r.detector != nil {
		var err error
		p, err = r.detector.DetectContinuation(ctx, Tail(previousKorean, TailRunes), r.head(newKorean))
		if err != nil {
			return nil, fmt.Errorf("continuation detection failed: %w", err)
		}
	}

	if !p.Actionable() {
		if p != nil {
			slog.Debug("Continuation below threshold, committing standalone",
				"is_continuation", p.IsContinuation, "confidence", p.Confidence)
		}
		return nil, nil
	}

	slog.Info("Continuation proposed", "confidence", p.Confidence)
	out := *p
	return &out, nil
}

// head is the new page's opening sentence, bounded to HeadRunes.
func (r *Resolver) head(text string) string {
	if first := r.splitter.Split(text); len(first) > 0 {
		return Head(first[0], HeadRunes)
	}
	return Head(text, HeadRunes)
}

// Tail returns the last n runes of s.
func Tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// Head returns the first n runes of s.
func Head(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
