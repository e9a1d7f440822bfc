package analyzer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compintel-monitor/internal/clock/system"
	"github.com/JakeFAU/compintel-monitor/internal/llm"
)

func TestErrorTrackerShouldAbort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		successes int
		failures  int
		critical  bool
		want      bool
	}{
		{name: "clean", successes: 5},
		{name: "few failures", successes: 0, failures: 10},
		{name: "many failures outnumber half", successes: 20, failures: 11, want: true},
		{name: "many failures but mostly successful", successes: 30, failures: 11},
		{name: "critical", successes: 100, failures: 1, critical: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := NewErrorTracker(system.Fixed(testNow))
			for range tt.successes {
				tr.AddSuccess()
			}
			for i := range tt.failures {
				tr.AddError(ErrorEntry{Company: "Acme"}, fmt.Errorf("fail %d", i), tt.critical && i == 0)
			}
			require.Equal(t, tt.want, tr.ShouldAbort())
			require.Equal(t, tt.failures > 0, tr.HasErrors())
		})
	}
}

func TestErrorTrackerReport(t *testing.T) {
	t.Parallel()

	tr := NewErrorTracker(system.Fixed(testNow))
	tr.AddSuccess()
	tr.AddError(ErrorEntry{ID: "7", Company: "Acme", URL: "https://acme.test"}, errors.New("boom"), true)

	rep := tr.Report()
	require.Equal(t, 2, rep.TotalProcessed)
	require.Equal(t, 1, rep.Successful)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 1, rep.CriticalErrors)
	require.Equal(t, "boom", rep.Errors[0].Error)
	require.Equal(t, testNow, rep.Errors[0].Timestamp)
}

func TestIsCritical(t *testing.T) {
	t.Parallel()

	require.True(t, IsCritical(fmt.Errorf("x: %w", llm.ErrInvalidAPIKey)))
	require.True(t, IsCritical(fmt.Errorf("%w: save: %w", errStore, errors.New("conn reset"))))
	require.False(t, IsCritical(errors.New("decode")))
}
