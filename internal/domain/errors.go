package domain

import "errors"

// Sentinel errors shared across layers. The four validation outcomes are
// caller-visible and recoverable: the workflow re-prompts the user rather
// than retrying automatically. I/O errors pass through unmodified.
var (
	// ErrNotFound is returned by reads that resolve no record.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput marks malformed or incomplete write input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoActiveRule means no rule resolves for the selected regime.
	// The evaluator handles it locally by yielding an empty preview.
	ErrNoActiveRule = errors.New("no active rule for regime")

	// ErrDuplicateCommit means committed fees already exist for the deal.
	ErrDuplicateCommit = errors.New("fees already applied")

	// ErrEmptyCommit means commit was invoked with zero preview lines.
	ErrEmptyCommit = errors.New("nothing to commit")

	// ErrInvalidOverride marks a rejected override (bad rate, no actor).
	ErrInvalidOverride = errors.New("invalid override")
)
