// Package politeness enforces robots directives and per-host pacing.
package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bizharvest/bizharvest/internal/metrics"
)

const maxRobotsBody = 1 << 20

// Config controls Gate behavior.
type Config struct {
	UserAgent string
	// RespectRobots disables the directive check when false; pacing
	// still applies.
	RespectRobots bool
	// PerHostInterval is the minimum gap between requests to one host.
	PerHostInterval time.Duration
	// RobotsTTL bounds how long a cached directive document is trusted.
	RobotsTTL time.Duration
	// Client overrides the robots fetch client, mainly for tests.
	Client *http.Client
}

// Gate caches per-host robots directives and rate limits outbound fetches.
// Host entries carry their own locks so unrelated hosts never serialize.
type Gate struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	robots    *robotstxt.RobotsData
	fetchedAt time.Time
}

// New builds a Gate.
func New(cfg Config, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PerHostInterval <= 0 {
		cfg.PerHostInterval = time.Second
	}
	if cfg.RobotsTTL <= 0 {
		cfg.RobotsTTL = time.Hour
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Gate{
		cfg:    cfg,
		client: client,
		logger: logger,
		hosts:  make(map[string]*hostState),
	}
}

// Allowed reports whether the host's robots directives permit the URL's
// path. An unreachable directive document fails open, since the absence of
// a robots.txt is not a denial.
func (g *Gate) Allowed(ctx context.Context, rawURL string) bool {
	if !g.cfg.RespectRobots {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	state := g.host(parsed.Hostname())
	data, err := g.loadRobots(ctx, state, parsed)
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(g.cfg.UserAgent)
	if group == nil {
		return true
	}
	allowed := group.Test(parsed.Path)
	if !allowed {
		metrics.ObserveRobotsDenied(parsed.Hostname())
	}
	return allowed
}

// WaitForSlot blocks until the host's minimum inter-request interval has
// elapsed, or the context ends.
func (g *Gate) WaitForSlot(ctx context.Context, host string) error {
	state := g.host(host)
	start := time.Now()
	if err := state.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness slot wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveSlotWait(host, waited)
	}
	return nil
}

func (g *Gate) host(host string) *hostState {
	key := strings.ToLower(host)
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.hosts[key]
	if !ok {
		state = &hostState{
			limiter: rate.NewLimiter(rate.Every(g.cfg.PerHostInterval), 1),
		}
		g.hosts[key] = state
	}
	return state
}

func (g *Gate) loadRobots(ctx context.Context, state *hostState, parsed *url.URL) (*robotstxt.RobotsData, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.robots != nil && time.Since(state.fetchedAt) < g.cfg.RobotsTTL {
		return state.robots, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body failed", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	state.robots = data
	state.fetchedAt = time.Now()
	return data, nil
}

// AllowAll is a Gate substitute used when politeness is disabled entirely.
type AllowAll struct{}

// Allowed always permits.
func (AllowAll) Allowed(context.Context, string) bool { return true }

// WaitForSlot returns immediately.
func (AllowAll) WaitForSlot(context.Context, string) error { return nil }
