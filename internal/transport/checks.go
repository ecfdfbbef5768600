package transport

import "context"

// CheckResult is the outcome of one pre-flight diagnostic. A failed
// check carries the problem description and, where known, remediation
// guidance shown to the user.
type CheckResult struct {
	Name        string `json:"name"`
	OK          bool   `json:"ok"`
	Detail      string `json:"detail,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// check pairs a name with its diagnostic function.
type check struct {
	name string
	run  func(ctx context.Context) (detail string, remediation string, ok bool)
}

// runChecks executes every check to completion. Failures never
// short-circuit the sequence: the point of pre-flight is to surface the
// complete diagnostic picture in one pass.
func runChecks(ctx context.Context, checks []check) []CheckResult {
	results := make([]CheckResult, 0, len(checks))
	for _, c := range checks {
		detail, remediation, ok := c.run(ctx)
		res := CheckResult{Name: c.name, OK: ok, Detail: detail}
		if !ok {
			res.Remediation = remediation
		}
		results = append(results, res)
	}
	return results
}
