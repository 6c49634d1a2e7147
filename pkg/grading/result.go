package grading

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TestStatus tells why a testcase passed or failed.
type TestStatus int

const (
	// Means that the output matched the expected output.
	TestPassed TestStatus = iota + 1
	// Means that the program ran to completion but its output was wrong.
	WrongAnswer
	// Means that the program raised an error while running.
	RuntimeError
	// Means that the program did not finish within its time limit.
	TimeLimitExceeded
)

func (s TestStatus) String() string {
	switch s {
	case TestPassed:
		return "passed"
	case WrongAnswer:
		return "wrong_answer"
	case RuntimeError:
		return "runtime_error"
	case TimeLimitExceeded:
		return "time_limit_exceeded"
	default:
		return "unknown"
	}
}

func (s TestStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *TestStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "passed":
		*s = TestPassed
	case "wrong_answer":
		*s = WrongAnswer
	case "runtime_error":
		*s = RuntimeError
	case "time_limit_exceeded":
		*s = TimeLimitExceeded
	default:
		return fmt.Errorf("unknown test status %q", name)
	}
	return nil
}

// TestResult is the outcome of a single testcase. All string fields are
// sanitised and snipped, so they are safe to display as they are.
type TestResult struct {
	Index     int             `json:"index"` // position of the testcase in the question, from 0
	TestCode  string          `json:"testcode"`
	Stdin     string          `json:"stdin"`
	Expected  string          `json:"expected"`
	Got       string          `json:"got"`
	IsCorrect bool            `json:"is_correct"`
	Status    TestStatus      `json:"status"`
	Mark      decimal.Decimal `json:"mark"`
	Display   DisplayPolicy   `json:"display"`
}

// newResult is the only place a TestResult is built, so every variant of
// validation gets the same display safety.
func newResult(tc TestCase, got string, status TestStatus) TestResult {
	display := tc.Display
	if display == "" {
		display = DisplayShow
	}
	return TestResult{
		TestCode:  displayable(tc.TestCode),
		Stdin:     displayable(tc.Stdin),
		Expected:  displayable(tc.ExpectedOutput),
		Got:       displayable(got),
		IsCorrect: status == TestPassed,
		Status:    status,
		Mark:      tc.Mark,
		Display:   display,
	}
}

func verdict(correct bool) TestStatus {
	if correct {
		return TestPassed
	}
	return WrongAnswer
}
