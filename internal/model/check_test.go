package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sevenzd/sevenzd/internal/model"
)

func TestCheckResultHelpers(t *testing.T) {
	tests := map[string]struct {
		results     []model.CheckResult
		expErrors   bool
		expWarnings bool
		expCounts   [3]int
	}{
		"No results should report nothing": {
			results:   nil,
			expCounts: [3]int{0, 0, 0},
		},

		"All passing checks should report neither errors nor warnings": {
			results: []model.CheckResult{
				{ID: "archiver_binary", Status: model.CheckStatusOK},
				{ID: "input_root", Status: model.CheckStatusOK},
			},
			expCounts: [3]int{2, 0, 0},
		},

		"A warning should be reported without errors": {
			results: []model.CheckResult{
				{ID: "archiver_binary", Status: model.CheckStatusOK},
				{ID: "token", Status: model.CheckStatusWarning},
			},
			expWarnings: true,
			expCounts:   [3]int{1, 1, 0},
		},

		"Mixed statuses should count each bucket": {
			results: []model.CheckResult{
				{ID: "archiver_binary", Status: model.CheckStatusError},
				{ID: "input_root", Status: model.CheckStatusWarning},
				{ID: "output_root", Status: model.CheckStatusOK},
			},
			expErrors:   true,
			expWarnings: true,
			expCounts:   [3]int{1, 1, 1},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(test.expErrors, model.HasErrors(test.results))
			assert.Equal(test.expWarnings, model.HasWarnings(test.results))

			ok, warnings, errors := model.CountByStatus(test.results)
			assert.Equal(test.expCounts, [3]int{ok, warnings, errors})
		})
	}
}
