package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
)

const (
	defaultComputePool = "mcd_agent_compute_pool"
	discoveryHost      = "discover.monitor.%s.snowflakecomputing.internal"
	metricsPort        = 9001
)

// Resolver resolves a host name to addresses, net.DefaultResolver in
// production.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Scraper collects platform metrics from every replica of the compute pool.
// The platform exposes a discovery DNS name that resolves to one address per
// service instance, each serving prometheus metrics on port 9001.
type Scraper struct {
	host     string
	resolver Resolver
	client   *http.Client

	// endpointURL overrides the scrape URL pattern, used by tests
	endpointURL func(addr string) string
}

// NewScraper creates a scraper for the agent's compute pool
func NewScraper() *Scraper {
	return &Scraper{
		host:     fmt.Sprintf(discoveryHost, defaultComputePool),
		resolver: net.DefaultResolver,
		client:   &http.Client{Timeout: 10 * time.Second},
		endpointURL: func(addr string) string {
			return fmt.Sprintf("http://%s:%d/metrics", addr, metricsPort)
		},
	}
}

// Fetch resolves the discovery host and concatenates the metric lines from
// every address. A failure on one address is logged and skipped.
func (s *Scraper) Fetch(ctx context.Context) ([]string, error) {
	addrs, err := s.resolver.LookupHost(ctx, s.host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", s.host, err)
	}
	addrs = dedupe(addrs)

	var mu sync.Mutex
	var lines []string
	g, ctx := errgroup.WithContext(ctx)
	for _, addr := range addrs {
		g.Go(func() error {
			scraped, err := s.scrape(ctx, addr)
			if err != nil {
				log.Logger.Warn().Err(err).Str("addr", addr).Msg("Failed to scrape metrics endpoint")
				return nil
			}
			mu.Lock()
			lines = append(lines, scraped...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Scraper) scrape(ctx context.Context, addr string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpointURL(addr), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimRight(string(body), "\n"), "\n"), nil
}

func dedupe(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}
