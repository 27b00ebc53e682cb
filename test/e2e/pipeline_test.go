package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestIngestPipeline exercises the full trigger → parse → persist → report
// flow against a running instance, using a markup snapshot so the test does
// not depend on the upstream feed.
func TestIngestPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := DefaultConfig()
	RequireService(t, cfg.APIURL)

	client := NewHTTPClient(cfg.APIURL, cfg.IngestToken)
	testStart := time.Now()

	// Unique titles and links so reruns insert instead of updating old rows.
	suffix := time.Now().UnixNano()
	rows := []ListingRow{
		{
			Title:    fmt.Sprintf("Huge moving sale %d", suffix),
			Href:     fmt.Sprintf("/d/moving/%d-1.html", suffix),
			Price:    "$20",
			PostedAt: "2026-08-29T09:00:00Z",
		},
		{
			Title:    fmt.Sprintf("Estate sale with antiques %d", suffix),
			Href:     fmt.Sprintf("/d/estate/%d-2.html", suffix),
			Price:    "$5 - $50",
			PostedAt: "2026-08-29T10:00:00Z",
		},
		{
			Title:    fmt.Sprintf("Garage sale everything FREE %d", suffix),
			Href:     fmt.Sprintf("/d/garage/%d-3.html", suffix),
			Price:    "FREE",
			PostedAt: "2026-08-29T11:00:00Z",
		},
	}
	markup := BuildListingMarkup(rows)

	t.Log("Triggering a dry run...")
	resp, err := client.Post("/api/ingest", map[string]any{
		"source":     "craigslist",
		"raw_markup": markup,
		"dry_run":    true,
	})
	if err != nil {
		t.Fatalf("Failed to trigger dry run: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Dry run returned status %d", resp.StatusCode)
	}

	dryRun, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse dry run response: %v", err)
	}
	if got, _ := dryRun["fetched_count"].(float64); got != 3 {
		t.Errorf("Expected 3 fetched items in dry run, got %v", got)
	}
	if got, _ := dryRun["new_count"].(float64); got != 0 {
		t.Errorf("Dry run must not write, got new_count %v", got)
	}

	t.Log("Triggering a real run...")
	idempotencyKey := uuid.NewString()
	resp, err = client.PostWithHeaders("/api/ingest", map[string]any{
		"source":     "craigslist",
		"raw_markup": markup,
	}, map[string]string{"Idempotency-Key": idempotencyKey})
	if err != nil {
		t.Fatalf("Failed to trigger run: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Run returned status %d", resp.StatusCode)
	}

	run, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse run response: %v", err)
	}
	runID, _ := run["run_id"].(string)
	if runID == "" {
		t.Fatal("Run response has no run_id")
	}
	if got, _ := run["new_count"].(float64); got != 3 {
		t.Errorf("Expected 3 new sales, got %v", got)
	}

	t.Log("Replaying the same idempotency key...")
	resp, err = client.PostWithHeaders("/api/ingest", map[string]any{
		"source":     "craigslist",
		"raw_markup": markup,
	}, map[string]string{"Idempotency-Key": idempotencyKey})
	if err != nil {
		t.Fatalf("Failed to replay run: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Replay returned status %d", resp.StatusCode)
	}
	if resp.Header.Get("Idempotent-Replay") != "true" {
		t.Error("Replay response is missing the Idempotent-Replay header")
	}
	replay, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse replay response: %v", err)
	}
	if replay["run_id"] != runID {
		t.Errorf("Replay returned run %v, expected %s", replay["run_id"], runID)
	}

	t.Log("Fetching the finished run...")
	resp, err = client.Get("/api/runs/" + runID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Get run returned status %d", resp.StatusCode)
	}
	stored, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse stored run: %v", err)
	}
	if stored["status"] != "ok" {
		t.Errorf("Expected run status ok, got %v", stored["status"])
	}
	if stored["finished_at"] == nil {
		t.Error("Finished run has no finished_at")
	}

	t.Log("Listing runs...")
	resp, err = client.Get("/api/runs")
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	runs, err := ParseResponse[[]map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse run list: %v", err)
	}
	found := false
	for _, r := range runs {
		if r["id"] == runID {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Run %s is missing from the run list", runID)
	}

	t.Log("Checking sale lifecycle events...")
	kafkaHelper := NewKafkaHelper(cfg.KafkaBrokers)
	ctx := context.Background()
	messages, err := kafkaHelper.ConsumeMessagesAfter(ctx, cfg.SaleEventsTopic,
		fmt.Sprintf("e2e-%d", suffix), 15*time.Second, 3, testStart)
	if err != nil {
		t.Logf("Warning: could not consume sale events (kafka may be disabled): %v", err)
		return
	}
	created := 0
	for _, msg := range messages {
		var event SaleEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			t.Errorf("Failed to decode sale event: %v", err)
			continue
		}
		if event.EventType == "sale.created" {
			created++
		}
	}
	if created == 0 {
		t.Error("Expected at least one sale.created event")
	}
}

// TestIngestAuth verifies the trigger endpoint rejects unauthenticated calls
func TestIngestAuth(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := DefaultConfig()
	RequireService(t, cfg.APIURL)

	client := NewHTTPClient(cfg.APIURL, "wrong-token")
	resp, err := client.Post("/api/ingest", map[string]any{
		"source":  "craigslist",
		"dry_run": true,
	})
	if err != nil {
		t.Fatalf("Failed to call trigger endpoint: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a bad ingest token, got %d", resp.StatusCode)
	}
}

// TestDuplicateEndpoints exercises the duplicate check and dismissal API
func TestDuplicateEndpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := DefaultConfig()
	RequireService(t, cfg.APIURL)

	client := NewHTTPClient(cfg.APIURL, cfg.IngestToken)

	t.Log("Checking for duplicates...")
	resp, err := client.Post("/api/duplicates/check", map[string]any{
		"title":      "Neighborhood garage sale",
		"lat":        37.7749,
		"lng":        -122.4194,
		"date_start": "2026-09-05T08:00:00Z",
	})
	if err != nil {
		t.Fatalf("Failed to check duplicates: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Duplicate check returned status %d", resp.StatusCode)
	}
	check, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse duplicate check response: %v", err)
	}
	if _, ok := check["candidates"]; !ok {
		t.Error("Duplicate check response has no candidates field")
	}

	t.Log("Dismissing a candidate pair...")
	resp, err = client.Post("/api/duplicates/dismiss", map[string]any{
		"sale_id":       uuid.NewString(),
		"other_sale_id": uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("Failed to dismiss duplicate: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Dismiss returned status %d", resp.StatusCode)
	}

	t.Log("Dismissing a self pair must fail...")
	id := uuid.NewString()
	resp, err = client.Post("/api/duplicates/dismiss", map[string]any{
		"sale_id":       id,
		"other_sale_id": id,
	})
	if err != nil {
		t.Fatalf("Failed to call dismiss: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a self pair, got %d", resp.StatusCode)
	}
}
