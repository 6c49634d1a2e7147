package grading

import (
	"github.com/shopspring/decimal"
)

// OutcomeVersion is bumped whenever the serialised shape of Outcome changes.
const OutcomeVersion = 1

// Grade is the tri-state verdict derived from an Outcome.
type Grade string

const (
	GradeRight   Grade = "right"
	GradeWrong   Grade = "wrong"
	GradePartial Grade = "partial"
)

var (
	one     = decimal.NewFromInt(1)
	epsilon = decimal.New(1, -5)
)

// Outcome is the verdict for one submission. It is built once by the grader
// and not modified afterwards.
type Outcome struct {
	Version            int             `json:"version"`
	Results            []TestResult    `json:"results"`
	HasSyntaxError     bool            `json:"has_syntax_error"`
	SyntaxErrorMessage string          `json:"syntax_error_message,omitempty"`
	// Aborted is set when a failing testcase with HideRestIfFail stopped the run.
	Aborted      bool            `json:"aborted"`
	AchievedMark decimal.Decimal `json:"achieved_mark"`
	MaxMark      decimal.Decimal `json:"max_mark"`
	AllOrNothing bool            `json:"all_or_nothing"`
	TestCount    int             `json:"test_count"`
}

func newSyntaxErrorOutcome(q Question, message string) *Outcome {
	return &Outcome{
		Version:            OutcomeVersion,
		Results:            []TestResult{},
		HasSyntaxError:     true,
		SyntaxErrorMessage: displayable(message),
		AchievedMark:       decimal.Zero,
		MaxMark:            q.MaxMark(),
		AllOrNothing:       q.AllOrNothing,
		TestCount:          len(q.TestCases),
	}
}

func newOutcome(q Question, results []TestResult, aborted bool) *Outcome {
	achieved := decimal.Zero
	for _, r := range results {
		if r.IsCorrect {
			achieved = achieved.Add(r.Mark)
		}
	}
	return &Outcome{
		Version:      OutcomeVersion,
		Results:      results,
		Aborted:      aborted,
		AchievedMark: achieved,
		MaxMark:      q.MaxMark(),
		AllOrNothing: q.AllOrNothing,
		TestCount:    len(q.TestCases),
	}
}

// AllCorrect reports whether every declared testcase ran and passed.
func (o *Outcome) AllCorrect() bool {
	if o.HasSyntaxError || o.Aborted || len(o.Results) != o.TestCount {
		return false
	}
	for _, r := range o.Results {
		if !r.IsCorrect {
			return false
		}
	}
	return true
}

// Fraction is the achieved share of the maximum mark, in [0, 1]. Testcases
// that never ran count as failed.
func (o *Outcome) Fraction() decimal.Decimal {
	if o.HasSyntaxError || !o.MaxMark.IsPositive() {
		return decimal.Zero
	}
	if o.AllOrNothing {
		if o.AllCorrect() {
			return one
		}
		return decimal.Zero
	}
	return o.AchievedMark.Div(o.MaxMark)
}

func (o *Outcome) Grade() Grade {
	f := o.Fraction()
	switch {
	case one.Sub(f).Abs().LessThanOrEqual(epsilon):
		return GradeRight
	case f.Abs().LessThanOrEqual(epsilon):
		return GradeWrong
	default:
		return GradePartial
	}
}

// VisibleResults returns the results a student is allowed to see.
func (o *Outcome) VisibleResults() []TestResult {
	visible := make([]TestResult, 0, len(o.Results))
	for _, r := range o.Results {
		if r.Visible() {
			visible = append(visible, r)
		}
	}
	return visible
}
