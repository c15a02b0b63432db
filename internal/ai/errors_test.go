package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestProviderError_Error(t *testing.T) {
	err := &ProviderError{Provider: "deepgram", Op: "transcription", StatusCode: 401, Message: "Invalid credentials."}
	if got := err.Error(); got != "deepgram transcription failed (status 401): Invalid credentials." {
		t.Errorf("Error() = %q", got)
	}

	err = &ProviderError{Provider: "openai", Op: "embeddings", Err: errors.New("connection refused")}
	if got := err.Error(); got != "openai embeddings failed: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &ProviderError{StatusCode: 429}, true},
		{"500", &ProviderError{StatusCode: 500}, true},
		{"503 wrapped", fmt.Errorf("scoring: %w", &ProviderError{StatusCode: 503}), true},
		{"400", &ProviderError{StatusCode: 400}, false},
		{"401", &ProviderError{StatusCode: 401}, false},
		{"network", &ProviderError{Err: context.DeadlineExceeded}, true},
		{"no cause", &ProviderError{Message: "empty response"}, false},
		{"plain error", errors.New("x"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporary(tt.err); got != tt.want {
				t.Errorf("IsTemporary = %v, want %v", got, tt.want)
			}
		})
	}
}
