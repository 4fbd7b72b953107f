package model

// CheckStatus is the outcome of a single preflight check.
type CheckStatus string

const (
	// CheckStatusOK indicates the check passed.
	CheckStatusOK CheckStatus = "ok"
	// CheckStatusWarning indicates a degraded but workable setup.
	CheckStatusWarning CheckStatus = "warning"
	// CheckStatusError indicates the gateway cannot work like this.
	CheckStatusError CheckStatus = "error"
)

// CheckResult is one preflight check outcome (e.g., "archiver_binary").
type CheckResult struct {
	// ID identifies the check.
	ID string
	// Message is the human-readable result.
	Message string
	Status  CheckStatus
}

// HasErrors returns true if any check failed.
func HasErrors(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == CheckStatusError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if any check raised a warning.
func HasWarnings(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == CheckStatusWarning {
			return true
		}
	}
	return false
}

// CountByStatus counts check results per status.
func CountByStatus(results []CheckResult) (ok, warnings, errors int) {
	for _, r := range results {
		switch r.Status {
		case CheckStatusOK:
			ok++
		case CheckStatusWarning:
			warnings++
		case CheckStatusError:
			errors++
		}
	}
	return
}
