// Package pipeline calls the upstream answering service for questions
// the cache cannot serve.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/minervahq/recall/internal/answer"
)

// Answerer produces an answer for a question given the session
// transcript. Implemented by Client; tests substitute fakes.
type Answerer interface {
	Answer(ctx context.Context, question, history string) (answer.Payload, float64, error)
}

// Client forwards cache misses to the answering service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the answering service base URL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// answerRequest is the JSON body for POST /answer.
type answerRequest struct {
	Question string `json:"question"`
	History  string `json:"history,omitempty"`
}

// answerResponse is the JSON returned by POST /answer. Answer carries
// the service's structured payload verbatim.
type answerResponse struct {
	Answer     json.RawMessage `json:"answer"`
	Confidence float64         `json:"confidence"`
}

// Answer submits the question with its transcript and returns the
// decoded answer and the service's confidence in it.
func (c *Client) Answer(ctx context.Context, question, history string) (answer.Payload, float64, error) {
	body, err := json.Marshal(answerRequest{Question: question, History: history})
	if err != nil {
		return answer.Payload{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/answer", bytes.NewReader(body))
	if err != nil {
		return answer.Payload{}, 0, fmt.Errorf("creating answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return answer.Payload{}, 0, fmt.Errorf("answer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return answer.Payload{}, 0, fmt.Errorf("answer: unexpected status %d", resp.StatusCode)
	}

	var result answerResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return answer.Payload{}, 0, fmt.Errorf("decoding answer response: %w", err)
	}
	if len(result.Answer) == 0 {
		return answer.Payload{}, 0, fmt.Errorf("answer: empty payload")
	}

	ans, err := answer.Parse(result.Answer)
	if err != nil {
		return answer.Payload{}, 0, fmt.Errorf("parsing answer payload: %w", err)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return answer.Payload{}, 0, fmt.Errorf("answer: confidence %.3f out of range", result.Confidence)
	}
	return ans, result.Confidence, nil
}
