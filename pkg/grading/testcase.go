package grading

import (
	"encoding/json"
	"fmt"
	"strings"

	pkgerrors "github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/shopspring/decimal"
)

// DisplayPolicy decides whether a testcase result is shown to the student.
type DisplayPolicy string

const (
	DisplayShow          DisplayPolicy = "SHOW"
	DisplayHide          DisplayPolicy = "HIDE"
	DisplayHideIfFail    DisplayPolicy = "HIDE_IF_FAIL"
	DisplayHideIfSucceed DisplayPolicy = "HIDE_IF_SUCCEED"
)

func (p DisplayPolicy) Valid() bool {
	switch p {
	case DisplayShow, DisplayHide, DisplayHideIfFail, DisplayHideIfSucceed:
		return true
	default:
		return false
	}
}

func (p *DisplayPolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*p = DisplayShow
		return nil
	}
	policy := DisplayPolicy(strings.ToUpper(s))
	if !policy.Valid() {
		return fmt.Errorf("unknown display policy %q", s)
	}
	*p = policy
	return nil
}

// TestCase is one configured unit a submission is graded against.
type TestCase struct {
	TestCode       string          `json:"testcode"`
	Stdin          string          `json:"stdin"`
	ExpectedOutput string          `json:"expected_output"`
	Mark           decimal.Decimal `json:"mark"`
	UseAsExample   bool            `json:"use_as_example"`
	Display        DisplayPolicy   `json:"display"`
	HideRestIfFail bool            `json:"hide_rest_if_fail"`
	// TimeLimitMs overrides the question's limit when non-zero.
	TimeLimitMs int64 `json:"time_limit_ms,omitempty"`
}

// Question is everything the grader needs to know about what is being graded.
type Question struct {
	ID           string        `json:"id"`
	Language     string        `json:"language"`
	AllOrNothing bool          `json:"all_or_nothing"`
	Validator    ValidatorKind `json:"validator"`
	// Combinator allows all testcases to be run in a single sandbox call.
	Combinator  bool       `json:"combinator"`
	TimeLimitMs int64      `json:"time_limit_ms,omitempty"`
	TestCases   []TestCase `json:"testcases"`
}

// ValidateQuestion reports configuration problems that would make grading
// meaningless. The returned error wraps ErrConfiguration.
func ValidateQuestion(q Question) error {
	if len(q.TestCases) == 0 {
		return fmt.Errorf("%w: question %q has no testcases", pkgerrors.ErrConfiguration, q.ID)
	}

	nonBlank, withTestCode := 0, 0
	for i, tc := range q.TestCases {
		if !tc.Mark.IsPositive() {
			return fmt.Errorf("%w: testcase %d has non-positive mark %s", pkgerrors.ErrConfiguration, i+1, tc.Mark)
		}
		if tc.Display != "" && !tc.Display.Valid() {
			return fmt.Errorf("%w: testcase %d has unknown display policy %q", pkgerrors.ErrConfiguration, i+1, tc.Display)
		}
		if tc.TimeLimitMs < 0 {
			return fmt.Errorf("%w: testcase %d has negative time limit", pkgerrors.ErrConfiguration, i+1)
		}
		if tc.blank() {
			continue
		}
		nonBlank++
		if strings.TrimSpace(tc.TestCode) != "" {
			withTestCode++
		}
	}

	if nonBlank == 0 {
		return fmt.Errorf("%w: question %q has only blank testcases", pkgerrors.ErrConfiguration, q.ID)
	}
	// Either every non-blank testcase supplies testcode or none of them do.
	if withTestCode != 0 && withTestCode != nonBlank {
		return fmt.Errorf("%w: testcode must be given for all testcases or for none", pkgerrors.ErrConfiguration)
	}
	return nil
}

// blank reports a testcase with no testcode, stdin or expected output.
func (tc TestCase) blank() bool {
	return strings.TrimSpace(tc.TestCode) == "" &&
		strings.TrimSpace(tc.Stdin) == "" &&
		strings.TrimSpace(tc.ExpectedOutput) == ""
}

// MaxMark is the sum of the marks of all declared testcases.
func (q Question) MaxMark() decimal.Decimal {
	total := decimal.Zero
	for _, tc := range q.TestCases {
		total = total.Add(tc.Mark)
	}
	return total
}

// ExampleTestCases returns the testcases flagged for use as examples in the
// question text.
func (q Question) ExampleTestCases() []TestCase {
	var examples []TestCase
	for _, tc := range q.TestCases {
		if tc.UseAsExample {
			examples = append(examples, tc)
		}
	}
	return examples
}
