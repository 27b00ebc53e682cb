package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/lanternetwork/saletracker/pkg/httpclient"
	"github.com/lanternetwork/saletracker/pkg/models"
)

// SiteFetcher retrieves raw feed markup for one source site. Fetch outcomes
// are reported as data, not errors, so a failed site never aborts the run.
type SiteFetcher interface {
	FetchSite(ctx context.Context, site string) (string, models.SiteFetchResult)
}

// FeedFetcher fetches feed markup over HTTP. Site names select the feed
// host by replacing the base URL's first host label (e.g. "eastbay" turns
// sfbay.craigslist.org into eastbay.craigslist.org).
type FeedFetcher struct {
	client  *httpclient.Client
	baseURL string
	logger  ectologger.Logger
}

// NewFeedFetcher creates a new FeedFetcher
func NewFeedFetcher(client *httpclient.Client, baseURL string, logger ectologger.Logger) *FeedFetcher {
	return &FeedFetcher{
		client:  client,
		baseURL: baseURL,
		logger:  logger,
	}
}

// FetchSite retrieves the feed page for site
func (f *FeedFetcher) FetchSite(ctx context.Context, site string) (string, models.SiteFetchResult) {
	result := models.SiteFetchResult{Site: site}

	target, err := f.siteURL(site)
	if err != nil {
		result.Error = err.Error()
		return "", result
	}

	resp, err := f.client.Get(ctx, target, map[string]string{
		"Accept": "text/html",
	})
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"site": site,
		}).Warn("Feed fetch failed")
		result.Error = err.Error()
		return "", result
	}

	result.StatusCode = resp.StatusCode
	if resp.StatusCode != 200 {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return "", result
	}

	result.OK = true
	return string(resp.Body), result
}

func (f *FeedFetcher) siteURL(site string) (string, error) {
	base, err := url.Parse(f.baseURL)
	if err != nil || base.Hostname() == "" {
		return "", fmt.Errorf("invalid feed base url %q", f.baseURL)
	}

	if site == "" {
		return base.String(), nil
	}

	labels := strings.Split(base.Hostname(), ".")
	labels[0] = site
	base.Host = strings.Join(labels, ".")
	return base.String(), nil
}
