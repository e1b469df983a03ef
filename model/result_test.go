package model

import "testing"

func TestExecutionResult_Status(t *testing.T) {
	tests := []struct {
		name   string
		result ExecutionResult
		want   string
	}{
		{"completed", ExecutionResult{Success: true, Matched: true}, ExecutionStatusCompleted},
		{"no match", ExecutionResult{Success: true, Matched: false}, ExecutionStatusNoMatch},
		{"run-level error", ExecutionResult{Success: false, Error: "dispatch panicked"}, ExecutionStatusFailed},
		{"action failure without error", ExecutionResult{Success: false, Matched: true}, ExecutionStatusFailed},
		{"disabled", ExecutionResult{Success: false, Error: DisabledRuleError()}, ExecutionStatusDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}
