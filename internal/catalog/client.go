package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public box registry.
const DefaultBaseURL = "https://app.vagrantup.com"

// maxCatalogSize bounds how much of a catalog response is read.
const maxCatalogSize = 16 << 20

// Fetcher retrieves the catalog for org/box.
type Fetcher interface {
	Fetch(ctx context.Context, org, box string) (*Catalog, error)
}

// HTTPClient fetches catalogs over HTTP(S).
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPClient returns a client for the registry at baseURL.
// An empty baseURL selects DefaultBaseURL; a nil logger disables logging.
func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := cleanhttp.DefaultClient()
	client.Timeout = 60 * time.Second

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		logger:  logger,
	}
}

// Fetch requests <base>/<org>/boxes/<box> as JSON.
// Any status other than 200 is an error.
func (c *HTTPClient) Fetch(ctx context.Context, org, box string) (*Catalog, error) {
	endpoint := fmt.Sprintf("%s/%s/boxes/%s", c.baseURL, url.PathEscape(org), url.PathEscape(box))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("fetching box catalog", zap.String("url", endpoint))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog for %s/%s: %w", org, box, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog request for %s/%s returned %s", org, box, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog for %s/%s: %w", org, box, err)
	}

	return Parse(data)
}
