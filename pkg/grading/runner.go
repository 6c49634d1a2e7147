package grading

import (
	"context"
	"time"
)

// TimeLimitExceededMessage replaces the output of a testcase that ran out
// of time.
const TimeLimitExceededMessage = "***Time limit exceeded***"

// SeparatorLine is printed between testcases when they are run as a single
// combined program.
const SeparatorLine = "#<ab@17943918#@>#"

type CompileRequest struct {
	Language string
	Source   string
}

type RunRequest struct {
	Language  string
	Source    string
	TestCode  string
	Stdin     string
	TimeLimit time.Duration
}

type CombinedRunRequest struct {
	Language  string
	Source    string
	TestCodes []string
	Separator string
	TimeLimit time.Duration
}

// RunResult is the already classified result of a sandbox invocation.
type RunResult struct {
	Stdout      []byte
	Stderr      []byte
	TimedOut    bool
	SyntaxError bool
	// RuntimeError holds the error text when the program died with an
	// uncaught error.
	RuntimeError *string
}

// Runner executes submissions in a sandbox. Every call must return, or be
// killed, within the deadline of its context. An error return means the
// sandbox itself failed, not the submission.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (*RunResult, error)
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// CombinedRunner is implemented by runners able to run every testcode of a
// question in one program, printing the separator between them.
type CombinedRunner interface {
	Runner
	RunCombined(ctx context.Context, req CombinedRunRequest) (*RunResult, error)
}
