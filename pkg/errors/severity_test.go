package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSiteErrorWrapping(t *testing.T) {
	cause := stderrors.New("open capex.csv: no such file")
	err := fmt.Errorf("loading costs: %w", NewInputDataError("capex.csv", "missing file", cause))

	assert.True(t, IsFatal(err))
	assert.True(t, HasCode(err, ErrCodeInputData))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[fatal] INPUT_DATA: missing file (location: capex.csv)")
}

func TestRecoverableErrors(t *testing.T) {
	tests := []struct {
		err  *SiteError
		code string
	}{
		{NewUnresolvedLocation("(1.0000,2.0000)", ""), ErrCodeUnresolvedLocation},
		{NewInfeasibleGridPoint("(1.0000,2.0000)", "coverage below threshold"), ErrCodeInfeasibleGridPoint},
		{NewIncompleteAggregation("europe"), ErrCodeIncompleteAggregation},
		{NewMissingCostOfCapital("XKX", 0.12), ErrCodeMissingCostOfCapital},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.True(t, tt.err.Recoverable)
			assert.False(t, IsFatal(tt.err))
			assert.True(t, HasCode(tt.err, tt.code))
		})
	}
	assert.Contains(t, NewUnresolvedLocation("x", "GUF").Error(), "no cost row for country GUF")
	assert.False(t, HasCode(stderrors.New("plain"), ErrCodeInputData))
}
