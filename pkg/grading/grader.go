package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/mini-maxit/coderunner/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultTimeLimit = 3 * time.Second
	defaultGrace     = 500 * time.Millisecond
)

var errNoResult = errors.New("runner returned no result")

// Grader runs a submission against the testcases of a question and builds
// its Outcome. It keeps no state between calls and may be shared by many
// goroutines.
type Grader struct {
	runner           Runner
	logger           *zap.SugaredLogger
	defaultTimeLimit time.Duration
	grace            time.Duration
}

type Option func(*Grader)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(g *Grader) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithDefaultTimeLimit sets the limit used when neither the testcase nor the
// question specify one.
func WithDefaultTimeLimit(limit time.Duration) Option {
	return func(g *Grader) {
		if limit > 0 {
			g.defaultTimeLimit = limit
		}
	}
}

// WithTimeLimitGrace sets how long past its time limit a sandbox call may
// take before the grader gives up on it.
func WithTimeLimitGrace(grace time.Duration) Option {
	return func(g *Grader) {
		if grace >= 0 {
			g.grace = grace
		}
	}
}

func NewGrader(runner Runner, opts ...Option) *Grader {
	g := &Grader{
		runner:           runner,
		logger:           zap.NewNop().Sugar(),
		defaultTimeLimit: defaultTimeLimit,
		grace:            defaultGrace,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// fold accumulates testcase results in order and remembers whether the run
// was cut short.
type fold struct {
	results []TestResult
	aborted bool
}

// add records r and reports whether the next testcase should run.
func (f *fold) add(r TestResult, tc TestCase) bool {
	f.results = append(f.results, r)
	if tc.HideRestIfFail && !r.IsCorrect {
		f.aborted = true
		return false
	}
	return true
}

// Grade grades source against q. A syntax error, runtime error or timeout is
// part of the returned Outcome. Sandbox failures, configuration problems and
// cancellation are returned as errors wrapping ErrSandbox, ErrConfiguration
// and ErrGradingCancelled.
func (g *Grader) Grade(ctx context.Context, source string, q Question) (*Outcome, error) {
	if err := ValidateQuestion(q); err != nil {
		return nil, err
	}
	validator, err := ValidatorFor(q.Validator)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrConfiguration, err)
	}
	if p, ok := validator.(Preparer); ok {
		if err := p.Prepare(q.TestCases); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	g.logger.Infof("Checking syntax [Question: %s]", q.ID)
	compiled, err := g.runner.Compile(ctx, CompileRequest{Language: q.Language, Source: source})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("%w: syntax check: %w", pkgerrors.ErrSandbox, err)
	}
	if compiled == nil {
		return nil, fmt.Errorf("%w: syntax check: %w", pkgerrors.ErrSandbox, errNoResult)
	}
	if compiled.SyntaxError {
		g.logger.Infof("Submission has a syntax error [Question: %s]", q.ID)
		return newSyntaxErrorOutcome(q, syntaxMessage(compiled)), nil
	}

	if f, ok := g.runCombined(ctx, source, q, validator); ok {
		return newOutcome(q, f.results, f.aborted), nil
	}

	f := &fold{results: make([]TestResult, 0, len(q.TestCases))}
	for i, tc := range q.TestCases {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		res, err := g.runTestCase(ctx, source, q, tc)
		if err != nil {
			return nil, err
		}
		if res.SyntaxError {
			g.logger.Infof("Syntax error reported while running testcase %d [Question: %s]", i+1, q.ID)
			return newSyntaxErrorOutcome(q, syntaxMessage(res)), nil
		}

		result := classify(res, tc, validator)
		result.Index = i
		if !f.add(result, tc) {
			g.logger.Infof("Testcase %d failed with hide-rest-if-fail, skipping %d remaining [Question: %s]",
				i+1, len(q.TestCases)-i-1, q.ID)
			break
		}
	}

	return newOutcome(q, f.results, f.aborted), nil
}

func (g *Grader) runTestCase(ctx context.Context, source string, q Question, tc TestCase) (*RunResult, error) {
	limit := g.timeLimit(q, tc)
	runCtx, cancel := context.WithTimeout(ctx, limit+g.grace)
	defer cancel()

	res, err := g.runner.Run(runCtx, RunRequest{
		Language:  q.Language,
		Source:    source,
		TestCode:  tc.TestCode,
		Stdin:     tc.Stdin,
		TimeLimit: limit,
	})
	if err == nil {
		if res == nil {
			return nil, fmt.Errorf("%w: %w", pkgerrors.ErrSandbox, errNoResult)
		}
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, cancelled(ctx.Err())
	}
	if isTimeout(err) {
		return &RunResult{TimedOut: true}, nil
	}
	return nil, fmt.Errorf("%w: %w", pkgerrors.ErrSandbox, err)
}

// runCombined tries to grade every testcase with a single sandbox call. It
// reports false whenever the per testcase path has to be taken instead.
func (g *Grader) runCombined(ctx context.Context, source string, q Question, validator Validator) (*fold, bool) {
	cr, ok := g.runner.(CombinedRunner)
	if !ok || !q.Combinator {
		return nil, false
	}
	testCodes := make([]string, len(q.TestCases))
	for i, tc := range q.TestCases {
		if tc.Stdin != "" {
			return nil, false
		}
		testCodes[i] = tc.TestCode
	}

	limit := g.timeLimit(q, TestCase{})
	runCtx, cancel := context.WithTimeout(ctx, limit+g.grace)
	defer cancel()

	res, err := cr.RunCombined(runCtx, CombinedRunRequest{
		Language:  q.Language,
		Source:    source,
		TestCodes: testCodes,
		Separator: SeparatorLine,
		TimeLimit: limit,
	})
	if err != nil {
		g.logger.Warnf("Combined run failed, running testcases one by one [Question: %s]: %s", q.ID, err)
		return nil, false
	}
	if res == nil {
		g.logger.Warnf("Combined run returned no result, running testcases one by one [Question: %s]", q.ID)
		return nil, false
	}
	if res.TimedOut || res.SyntaxError || res.RuntimeError != nil {
		g.logger.Infof("Combined run did not complete cleanly, running testcases one by one [Question: %s]", q.ID)
		return nil, false
	}

	outputs := strings.Split(string(res.Stdout), SeparatorLine+"\n")
	if len(outputs) != len(q.TestCases) {
		g.logger.Infof("Combined run produced %d outputs for %d testcases [Question: %s]",
			len(outputs), len(q.TestCases), q.ID)
		return nil, false
	}

	f := &fold{results: make([]TestResult, 0, len(q.TestCases))}
	for i, tc := range q.TestCases {
		result := validator.Validate(outputs[i], tc)
		result.Index = i
		if !f.add(result, tc) {
			break
		}
	}
	return f, true
}

func (g *Grader) timeLimit(q Question, tc TestCase) time.Duration {
	switch {
	case tc.TimeLimitMs > 0:
		return time.Duration(tc.TimeLimitMs) * time.Millisecond
	case q.TimeLimitMs > 0:
		return time.Duration(q.TimeLimitMs) * time.Millisecond
	default:
		return g.defaultTimeLimit
	}
}

// classify turns a completed run into a TestResult. Output produced before a
// timeout or runtime error is discarded.
func classify(res *RunResult, tc TestCase, validator Validator) TestResult {
	switch {
	case res.TimedOut:
		return newResult(tc, TimeLimitExceededMessage, TimeLimitExceeded)
	case res.RuntimeError != nil:
		return newResult(tc, *res.RuntimeError, RuntimeError)
	default:
		return validator.Validate(string(res.Stdout), tc)
	}
}

func syntaxMessage(res *RunResult) string {
	if len(res.Stderr) > 0 {
		return string(res.Stderr)
	}
	return string(res.Stdout)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, pkgerrors.ErrContainerTimeout)
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", pkgerrors.ErrGradingCancelled, err)
}
