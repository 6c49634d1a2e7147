package grading

// ShouldDisplay applies a display policy to a testcase verdict.
func ShouldDisplay(policy DisplayPolicy, isCorrect bool) bool {
	switch policy {
	case DisplayHide:
		return false
	case DisplayHideIfFail:
		return isCorrect
	case DisplayHideIfSucceed:
		return !isCorrect
	default:
		return true
	}
}

func (r TestResult) Visible() bool {
	return ShouldDisplay(r.Display, r.IsCorrect)
}
