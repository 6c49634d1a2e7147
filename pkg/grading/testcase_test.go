package grading_test

import (
	"encoding/json"
	"errors"
	"testing"

	pkgerrors "github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/grading"
	"github.com/shopspring/decimal"
)

func TestDisplayPolicyUnmarshal(t *testing.T) {
	var tc grading.TestCase
	if err := json.Unmarshal([]byte(`{"display":"hide_if_fail","mark":"1.5"}`), &tc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc.Display != grading.DisplayHideIfFail {
		t.Fatalf("expected HIDE_IF_FAIL, got %q", tc.Display)
	}
	if !tc.Mark.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected mark 1.5, got %s", tc.Mark)
	}

	if err := json.Unmarshal([]byte(`{"display":"SOMETIMES"}`), &tc); err == nil {
		t.Fatalf("expected unknown display policy to be rejected")
	}
}

func TestValidateQuestion(t *testing.T) {
	q := sqrQuestion()
	if err := grading.ValidateQuestion(q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q.TestCases[1].Mark = decimal.NewFromInt(-1)
	if err := grading.ValidateQuestion(q); !errors.Is(err, pkgerrors.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestValidateQuestion_BlankTestCases(t *testing.T) {
	q := sqrQuestion()
	q.TestCases = append(q.TestCases, grading.TestCase{Mark: decimal.NewFromInt(1)})
	if err := grading.ValidateQuestion(q); err != nil {
		t.Fatalf("a blank testcase must not count towards the testcode rule: %v", err)
	}

	q.TestCases[2].TestCode = ""
	if err := grading.ValidateQuestion(q); !errors.Is(err, pkgerrors.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for mixed testcode, got %v", err)
	}

	blankOnly := grading.Question{ID: "blank", TestCases: []grading.TestCase{{Mark: decimal.NewFromInt(1)}}}
	if err := grading.ValidateQuestion(blankOnly); !errors.Is(err, pkgerrors.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for blank testcases only, got %v", err)
	}
}

func TestQuestionHelpers(t *testing.T) {
	q := sqrQuestion(0.5, 1, 1.5, 2, 2.5)
	if !q.MaxMark().Equal(decimal.RequireFromString("7.5")) {
		t.Fatalf("expected max mark 7.5, got %s", q.MaxMark())
	}

	q.TestCases[0].UseAsExample = true
	q.TestCases[3].UseAsExample = true
	examples := q.ExampleTestCases()
	if len(examples) != 2 || examples[1].TestCode != q.TestCases[3].TestCode {
		t.Fatalf("unexpected examples: %+v", examples)
	}
}
