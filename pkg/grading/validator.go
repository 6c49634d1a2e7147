package grading

import (
	"fmt"
	"regexp"
	"strings"

	pkgerrors "github.com/mini-maxit/coderunner/pkg/errors"
)

// ValidatorKind selects how actual output is compared with the expected one.
type ValidatorKind string

const (
	ExactMatchValidator   ValidatorKind = "exact"
	PatternMatchValidator ValidatorKind = "regex"
	TokenMatchValidator   ValidatorKind = "tokens"
)

// Validator compares the output of one testcase run with its expected output.
// Implementations must not modify the testcase.
type Validator interface {
	Validate(output string, tc TestCase) TestResult
}

// Preparer is implemented by validators that need to inspect the testcases
// before any of them is run. A returned error means the question is
// misconfigured.
type Preparer interface {
	Prepare(testCases []TestCase) error
}

// ValidatorFor returns a fresh validator of the given kind. An empty kind
// selects exact matching.
func ValidatorFor(kind ValidatorKind) (Validator, error) {
	switch kind {
	case ExactMatchValidator, "":
		return ExactMatch{}, nil
	case PatternMatchValidator:
		return NewPatternMatch(), nil
	case TokenMatchValidator:
		return TokenMatch{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownValidator, kind)
	}
}

// ExactMatch accepts output equal to the expected output up to trailing
// spaces and trailing blank lines.
type ExactMatch struct{}

func (ExactMatch) Validate(output string, tc TestCase) TestResult {
	return newResult(tc, output, verdict(Clean(output) == Clean(tc.ExpectedOutput)))
}

// TokenMatch accepts output whose whitespace separated tokens equal those of
// the expected output.
type TokenMatch struct{}

func (TokenMatch) Validate(output string, tc TestCase) TestResult {
	got := strings.Fields(output)
	want := strings.Fields(tc.ExpectedOutput)
	correct := len(got) == len(want)
	for i := 0; correct && i < len(got); i++ {
		correct = got[i] == want[i]
	}
	return newResult(tc, output, verdict(correct))
}

// PatternMatch treats the expected output as a regular expression which must
// match somewhere in the actual output.
type PatternMatch struct {
	patterns map[string]*regexp.Regexp
}

func NewPatternMatch() *PatternMatch {
	return &PatternMatch{patterns: make(map[string]*regexp.Regexp)}
}

func (pm *PatternMatch) Prepare(testCases []TestCase) error {
	for i, tc := range testCases {
		if _, err := pm.compile(tc.ExpectedOutput); err != nil {
			return fmt.Errorf("%w: testcase %d: bad pattern: %v", pkgerrors.ErrConfiguration, i+1, err)
		}
	}
	return nil
}

func (pm *PatternMatch) Validate(output string, tc TestCase) TestResult {
	re, err := pm.compile(tc.ExpectedOutput)
	if err != nil {
		return newResult(tc, output, WrongAnswer)
	}
	return newResult(tc, output, verdict(re.MatchString(output)))
}

func (pm *PatternMatch) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := pm.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?s)" + strings.TrimRight(pattern, "\n"))
	if err != nil {
		return nil, err
	}
	pm.patterns[pattern] = re
	return re, nil
}
