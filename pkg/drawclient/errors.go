package drawclient

import "fmt"

// TimedOutError is returned when the server could not take its locks within
// budget. The operation had no side effects and may be retried.
type TimedOutError struct {
	Op               string
	DrawType         string
	RecommendedRetry int64 // ms
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("timed out: op=%s draw_type=%s retry_ms=%d", e.Op, e.DrawType, e.RecommendedRetry)
}

type UnexpectedStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s %s -> %d body=%q", e.Method, e.Path, e.Code, e.Body)
}
