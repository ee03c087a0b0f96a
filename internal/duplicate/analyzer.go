package duplicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultAnalyzerTimeout bounds a single provider round-trip.
const DefaultAnalyzerTimeout = 30 * time.Second

// Provider sends an image and a prompt to a multimodal model and returns its
// raw text reply.
type Provider interface {
	Send(ctx context.Context, imageData []byte, contentType string, prompt string) (string, error)
}

// Analyzer confirms likely duplicates with a vision model. It never returns
// an error: every failure becomes a non-duplicate verdict with Error set.
type Analyzer struct {
	provider Provider
	timeout  time.Duration
}

// NewAnalyzer creates an Analyzer. A non-positive timeout uses DefaultAnalyzerTimeout.
func NewAnalyzer(provider Provider, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = DefaultAnalyzerTimeout
	}
	return &Analyzer{
		provider: provider,
		timeout:  timeout,
	}
}

// ShouldEscalate reports whether the top match is strong enough to justify a
// deep analysis call. matches must be sorted by descending confidence.
func ShouldEscalate(matches []MatchResult) bool {
	return len(matches) > 0 && matches[0].Confidence >= EscalationThreshold
}

type sendResult struct {
	text string
	err  error
}

// ConfirmDuplicate asks the provider whether the image shows the same
// purchase as one of the suspects. Only the first MaxReportedMatches
// suspects are described.
func (a *Analyzer) ConfirmDuplicate(ctx context.Context, imageData []byte, contentType string, suspects []Suspect) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Deep duplicate analysis panicked", "panic", r)
			verdict = failedVerdict(fmt.Errorf("provider panic: %v", r))
		}
	}()

	if len(suspects) == 0 {
		return failedVerdict(errors.New("no suspects to compare against"))
	}
	if len(suspects) > MaxReportedMatches {
		suspects = suspects[:MaxReportedMatches]
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := buildAnalysisPrompt(suspects)
	start := time.Now()

	// The provider runs in its own goroutine so a client that ignores ctx
	// still cannot hold the upload past the deadline.
	done := make(chan sendResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sendResult{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		text, err := a.provider.Send(ctx, imageData, contentType, prompt)
		done <- sendResult{text: text, err: err}
	}()

	var res sendResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = sendResult{err: ctx.Err()}
	}

	if res.err != nil {
		slog.Warn("Deep duplicate analysis failed",
			"error", res.err,
			"suspects", len(suspects),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return failedVerdict(fmt.Errorf("calling provider: %w", res.err))
	}

	payload, err := parseVerdict(res.text)
	if err != nil {
		slog.Warn("Deep duplicate analysis returned an unusable response",
			"error", err,
			"response_bytes", len(res.text),
		)
		return failedVerdict(err)
	}

	verdict = Verdict{
		IsDuplicate:     payload.IsDuplicate,
		Confidence:      payload.Confidence,
		MatchedRecordID: resolveMatchedID(payload, suspects),
		Reasoning:       payload.Reasoning,
	}

	slog.Info("Deep duplicate analysis finished",
		"is_duplicate", verdict.IsDuplicate,
		"confidence", verdict.Confidence,
		"matched_record_id", verdict.MatchedRecordID,
		"confirmed", verdict.Confirmed(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return verdict
}

// resolveMatchedID keeps the provider's id only when it names one of the
// suspects. A positive verdict without a usable id falls back to the top
// suspect so a link never points outside the matched window.
func resolveMatchedID(payload verdictPayload, suspects []Suspect) string {
	if payload.MatchedReceiptID != nil {
		for _, s := range suspects {
			if s.Record.ID == *payload.MatchedReceiptID {
				return s.Record.ID
			}
		}
	}
	if payload.IsDuplicate {
		return suspects[0].Record.ID
	}
	return ""
}

func failedVerdict(err error) Verdict {
	return Verdict{
		IsDuplicate: false,
		Confidence:  0,
		Reasoning:   "deep analysis unavailable",
		Error:       err.Error(),
	}
}
