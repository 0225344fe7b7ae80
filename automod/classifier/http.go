package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

type leveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l leveledSlog) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

func (l leveledSlog) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debug(msg, keysAndValues...)
}

// RobustHTTPClient returns an HTTP client with retries on connection
// errors, 5xx, and 429 (respecting Retry-After), logging intermediate
// failures at WARN.
func RobustHTTPClient(logger *slog.Logger) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{logger})
	client := retryClient.StandardClient()
	client.Timeout = 15 * time.Second
	return client
}

// HTTPClassifier calls an OpenAI-compatible chat completions endpoint
// and asks for a strict JSON verdict. Calls are rate limited so a busy
// group can't exhaust the API quota.
type HTTPClassifier struct {
	Host    string
	APIKey  string
	Model   string
	Client  *http.Client
	Limiter *rate.Limiter
	Timeout time.Duration
	Logger  *slog.Logger
}

type HTTPClassifierConfig struct {
	Host           string
	APIKey         string
	Model          string
	CallsPerSecond int
	Timeout        time.Duration
	Logger         *slog.Logger
}

func NewHTTPClassifier(config HTTPClassifierConfig) *HTTPClassifier {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 8 * time.Second
	}
	cps := config.CallsPerSecond
	if cps == 0 {
		cps = 10
	}
	return &HTTPClassifier{
		Host:    config.Host,
		APIKey:  config.APIKey,
		Model:   config.Model,
		Client:  RobustHTTPClient(logger),
		Limiter: rate.NewLimiter(rate.Limit(cps), cps),
		Timeout: timeout,
		Logger:  logger,
	}
}

var _ Classifier = (*HTTPClassifier)(nil)

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type verdict struct {
	IsSafe          bool    `json:"is_safe"`
	SpamScore       float64 `json:"spam_score"`
	ToxicityScore   float64 `json:"toxicity_score"`
	ScamScore       float64 `json:"scam_score"`
	IllegalScore    float64 `json:"illegal_score"`
	PhishingScore   float64 `json:"phishing_score"`
	NSFWScore       float64 `json:"nsfw_score"`
	SuspiciousLinks float64 `json:"suspicious_links"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
}

const verdictPrompt = "Analyze this group chat message for safety. Return ONLY a valid JSON object " +
	`in this format: {"is_safe": bool, "spam_score": float, "toxicity_score": float, ` +
	`"scam_score": float, "illegal_score": float, "phishing_score": float, "nsfw_score": float, ` +
	`"suspicious_links": float, "confidence": float, "reason": "string"}. All floats in [0,1]. Message: %q`

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("classifier rate limit wait: %w", err)
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(verdictPrompt, text)},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    0.0,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier request failed, status=%d", resp.StatusCode)
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("decoding classifier response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("classifier returned no choices")
	}

	var v verdict
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &v); err != nil {
		return nil, fmt.Errorf("parsing classifier verdict: %w", err)
	}
	return v.toResult(), nil
}

func (v *verdict) toResult() *Result {
	confidence := v.Confidence
	if confidence == 0 {
		confidence = 0.8
	}
	return &Result{
		Safe: v.IsSafe,
		Scores: map[string]float64{
			FactorSpam:     clampScore(v.SpamScore),
			FactorToxicity: clampScore(v.ToxicityScore),
			FactorScam:     clampScore(v.ScamScore),
			FactorIllegal:  clampScore(v.IllegalScore),
			FactorPhishing: clampScore(v.PhishingScore),
			FactorNSFW:     clampScore(v.NSFWScore),
			FactorLinks:    clampScore(v.SuspiciousLinks),
		},
		Confidence: clampScore(confidence),
		Reason:     v.Reason,
	}
}
