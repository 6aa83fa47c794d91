package gemini

import (
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResponseText(t *testing.T) {
	t.Run("first candidate part", func(t *testing.T) {
		resp := &GenerateContentResponse{
			Candidates: []Candidate{
				{Content: Content{Parts: []Part{{Text: "hello"}, {Text: "ignored"}}}},
			},
		}
		require.Equal(t, "hello", resp.Text())
	})

	t.Run("no candidates", func(t *testing.T) {
		resp := &GenerateContentResponse{}
		require.Empty(t, resp.Text())
	})

	t.Run("candidate without parts", func(t *testing.T) {
		resp := &GenerateContentResponse{Candidates: []Candidate{{}}}
		require.Empty(t, resp.Text())
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &APIError{Code: http.StatusTooManyRequests}, true},
		{"server error", &APIError{Code: http.StatusInternalServerError}, true},
		{"bad gateway", &APIError{Code: http.StatusBadGateway}, true},
		{"unauthorized", &APIError{Code: http.StatusUnauthorized}, false},
		{"bad request", &APIError{Code: http.StatusBadRequest}, false},
		{"not found", &APIError{Code: http.StatusNotFound}, false},
		{"network timeout", timeoutErr{}, true},
		{"wrapped network timeout", errors.Join(errors.New("request"), timeoutErr{}), true},
		{"plain error", errors.New("encode failed"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota exceeded"}
	require.Contains(t, err.Error(), "429")
	require.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
	require.Contains(t, err.Error(), "quota exceeded")
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("key")
	require.NotNil(t, c.httpClient)
	require.Equal(t, 60*time.Second, c.httpClient.Timeout)
}
