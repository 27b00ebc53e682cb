package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds test configuration
type Config struct {
	APIURL          string
	KafkaBrokers    []string
	SaleEventsTopic string
	IngestToken     string
}

// DefaultConfig returns default test configuration
func DefaultConfig() Config {
	return Config{
		APIURL:          getEnv("API_URL", "http://localhost:3004"),
		KafkaBrokers:    []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
		SaleEventsTopic: getEnv("SALE_EVENTS_TOPIC", "sale-events"),
		IngestToken:     getEnv("INGEST_TOKEN", "e2e-test-token"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// HTTPClient wraps http.Client with helper methods
type HTTPClient struct {
	client      *http.Client
	baseURL     string
	ingestToken string
}

// NewHTTPClient creates a new HTTP client for the service
func NewHTTPClient(baseURL, ingestToken string) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:     baseURL,
		ingestToken: ingestToken,
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(path string) (*http.Response, error) {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(path string, body any) (*http.Response, error) {
	return c.PostWithHeaders(path, body, nil)
}

// PostWithHeaders performs a POST request with JSON body and extra headers
func (c *HTTPClient) PostWithHeaders(path string, body any, headers map[string]string) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

func (c *HTTPClient) addHeaders(req *http.Request) {
	req.Header.Set("X-Ingest-Token", c.ingestToken)
	req.Header.Set("X-User-ID", "e2e-test-user")
}

// ParseResponse parses a JSON response into the given type
func ParseResponse[T any](resp *http.Response) (T, error) {
	var result T
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
	}
	return result, nil
}

// KafkaHelper provides Kafka testing utilities
type KafkaHelper struct {
	brokers []string
}

// NewKafkaHelper creates a new Kafka helper
func NewKafkaHelper(brokers []string) *KafkaHelper {
	return &KafkaHelper{brokers: brokers}
}

// ConsumeMessagesAfter consumes messages from a topic, filtering for messages after a specific time
func (k *KafkaHelper) ConsumeMessagesAfter(ctx context.Context, topic, groupID string, timeout time.Duration, maxMessages int, afterTime time.Time) ([]kafka.Message, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	messages := make([]kafka.Message, 0, maxMessages)
	deadline := time.Now().Add(timeout)

	for len(messages) < maxMessages && time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
		msg, err := reader.FetchMessage(ctx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				continue // Timeout, try again
			}
			return messages, err
		}

		// Commit all messages to advance offset, but only keep recent ones
		reader.CommitMessages(context.Background(), msg)

		if !afterTime.IsZero() && msg.Time.Before(afterTime) {
			continue // Skip old messages
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

// RequireService skips the test if the service is not available
// Waits up to 10 seconds for service to become ready (handles 503 during startup)
func RequireService(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/health/ready")
		if err != nil {
			t.Skipf("Skipping: service at %s is not available", url)
			return
		}

		status := resp.StatusCode
		resp.Body.Close()

		if status == http.StatusOK {
			return // Service is ready
		}

		if status == http.StatusServiceUnavailable {
			t.Logf("Service at %s is starting (503), waiting...", url)
			time.Sleep(1 * time.Second)
			continue
		}

		t.Skipf("Skipping: service at %s returned status %d", url, status)
		return
	}

	t.Skipf("Skipping: service at %s did not become ready within 10s", url)
}

// SaleEvent mirrors the published sale lifecycle event payload
type SaleEvent struct {
	EventType string         `json:"event_type"`
	SaleID    string         `json:"sale_id"`
	Sale      map[string]any `json:"sale"`
	Timestamp time.Time      `json:"timestamp"`
}

// ListingRow describes one feed row for building test markup
type ListingRow struct {
	Title    string
	Href     string
	Price    string
	PostedAt string
}

// BuildListingMarkup renders rows into a feed results page snapshot
func BuildListingMarkup(rows []ListingRow) string {
	var buf bytes.Buffer
	buf.WriteString("<html><body><ul>")
	for _, row := range rows {
		buf.WriteString(`<li class="result-row">`)
		if row.PostedAt != "" {
			fmt.Fprintf(&buf, `<time datetime="%s">%s</time>`, row.PostedAt, row.PostedAt)
		}
		fmt.Fprintf(&buf, `<a class="result-title" href="%s">%s</a>`, row.Href, row.Title)
		if row.Price != "" {
			fmt.Fprintf(&buf, `<span class="result-price">%s</span>`, row.Price)
		}
		buf.WriteString("</li>")
	}
	buf.WriteString("</ul></body></html>")
	return buf.String()
}
