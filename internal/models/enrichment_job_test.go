package models

import "testing"

func TestProgress(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		total     int
		expected  int
	}{
		{"zero total is done", 0, 0, 100},
		{"nothing processed", 0, 5, 0},
		{"partial", 2, 5, 40},
		{"all processed", 5, 5, 100},
		{"over count clamps", 7, 5, 100},
		{"negative clamps", -1, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Progress(tt.processed, tt.total); got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestEnrichmentJob_Validate(t *testing.T) {
	tests := []struct {
		name  string
		job   EnrichmentJob
		valid bool
	}{
		{"running partial", EnrichmentJob{TotalContacts: 5, ProcessedCount: 2, FailedCount: 1, Status: JobStatusRunning}, true},
		{"completed with failures", EnrichmentJob{TotalContacts: 5, ProcessedCount: 4, FailedCount: 1, Status: JobStatusCompleted}, true},
		{"completed empty job", EnrichmentJob{Status: JobStatusCompleted}, true},
		{"counts exceed total", EnrichmentJob{TotalContacts: 2, ProcessedCount: 2, FailedCount: 1, Status: JobStatusRunning}, false},
		{"completed early", EnrichmentJob{TotalContacts: 5, ProcessedCount: 3, Status: JobStatusCompleted}, false},
		{"failed mid-way", EnrichmentJob{TotalContacts: 5, ProcessedCount: 3, Status: JobStatusFailed}, true},
		{"negative", EnrichmentJob{TotalContacts: 5, FailedCount: -1, Status: JobStatusRunning}, false},
		{"unknown status", EnrichmentJob{Status: JobStatus("PAUSED")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestEnrichmentJob_Terminal(t *testing.T) {
	if (EnrichmentJob{Status: JobStatusRunning}).Terminal() {
		t.Error("Expected RUNNING not to be terminal")
	}
	if !(EnrichmentJob{Status: JobStatusCompleted}).Terminal() || !(EnrichmentJob{Status: JobStatusFailed}).Terminal() {
		t.Error("Expected COMPLETED and FAILED to be terminal")
	}
}
