// Package crawler provides a concurrent crawl consumer on top of the request
// queue. Workers fetch queued requests, extract links, enqueue new
// discoveries, and mark or reclaim requests depending on the outcome. All
// dedup and recovery logic lives in the queue; the crawler only drives it.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/masahif/quetadoru/internal/config"
	"github.com/masahif/quetadoru/internal/parser"
	"github.com/masahif/quetadoru/internal/queue"
	"github.com/masahif/quetadoru/internal/request"
)

// Crawler runs a fixed pool of workers against a request queue.
type Crawler struct {
	config    *config.Config
	queue     Queue
	fetcher   Fetcher
	extractor *parser.LinkExtractor
	limiter   *RateLimiter
	logger    *slog.Logger

	includePatterns []*regexp.Regexp
	excludePatterns []*regexp.Regexp
	allowedHosts    map[string]struct{} // empty means no host restriction

	stats      CrawlStats
	statsMutex sync.RWMutex

	activeWorkers int
	workersMutex  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCrawler creates a crawler over the given queue. Include and exclude
// patterns are compiled up front so a bad pattern fails fast instead of
// silently filtering nothing.
func NewCrawler(cfg *config.Config, q Queue, logger *slog.Logger) (*Crawler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	include, err := compilePatterns(cfg.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	exclude, err := compilePatterns(cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}

	// Restrict discovered links to the seed hosts. A run without seeds
	// resumes an existing queue and crawls whatever hosts it contains.
	allowedHosts := make(map[string]struct{})
	for _, seedURL := range cfg.SeedURLs {
		if parsedURL, err := url.Parse(seedURL); err == nil && parsedURL.Host != "" {
			allowedHosts[parsedURL.Host] = struct{}{}
		}
	}

	return &Crawler{
		config:          cfg,
		queue:           q,
		fetcher:         NewHTTPClient(cfg.UserAgent, cfg.RequestTimeout),
		extractor:       parser.NewLinkExtractor(),
		limiter:         NewRateLimiter(cfg.RequestDelay),
		logger:          logger,
		includePatterns: include,
		excludePatterns: exclude,
		allowedHosts:    allowedHosts,
	}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Run enqueues the seed URLs and processes the queue until it is finished,
// the page limit is reached, or the context is cancelled.
func (c *Crawler) Run(ctx context.Context, seedURLs []string) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()

	c.statsMutex.Lock()
	c.stats = CrawlStats{StartTime: time.Now()}
	c.statsMutex.Unlock()

	if len(seedURLs) > 0 {
		seeds := make([]*request.Request, 0, len(seedURLs))
		for _, seedURL := range seedURLs {
			req, err := request.New(seedURL, request.Options{})
			if err != nil {
				c.logger.Warn("skipping invalid seed URL", "url", seedURL, "error", err)
				continue
			}
			seeds = append(seeds, req)
		}
		if _, err := c.queue.AddRequests(c.ctx, seeds, queue.AddOptions{}); err != nil {
			return fmt.Errorf("failed to add seed URLs to queue: %w", err)
		}
		c.logger.Info("added seed URLs to queue", "count", len(seeds))
	} else {
		c.logger.Info("no seed URLs, resuming from existing queue")
	}

	c.workersMutex.Lock()
	c.activeWorkers = c.config.Concurrency
	c.workersMutex.Unlock()
	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.wg.Add(1)
	go c.statsReporter()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("crawling completed")
	case <-c.ctx.Done():
		c.logger.Info("crawling cancelled")
		<-done
	}

	return nil
}

// Stop cancels a running crawl.
func (c *Crawler) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.fetcher.Close()
	return nil
}

// GetStats returns current crawl statistics.
func (c *Crawler) GetStats() CrawlStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	stats := c.stats
	stats.Duration = time.Since(stats.StartTime)
	return stats
}

// worker pulls requests from the queue until the queue is finished, the
// limit is reached, or the context is cancelled.
func (c *Crawler) worker(id int) {
	defer c.wg.Done()
	defer c.handleWorkerShutdown(id)

	c.logger.Debug("worker started", "worker_id", id)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.limitReached() {
			c.logger.Debug("worker reached limit", "worker_id", id)
			return
		}

		req, err := c.queue.FetchNextRequest(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error("worker failed to fetch from queue", "worker_id", id, "error", err)
			c.workerSleep()
			continue
		}

		if req == nil {
			// Nothing fetchable right now. Only a positive IsFinished
			// answer means done; otherwise requests may still be in
			// flight at other workers.
			finished, err := c.queue.IsFinished(c.ctx)
			if err != nil {
				c.logger.Error("worker failed to check queue state", "worker_id", id, "error", err)
			}
			if finished {
				c.logger.Debug("queue finished, worker exiting", "worker_id", id)
				return
			}
			c.workerSleep()
			continue
		}

		c.processRequest(id, req)
	}
}

// handleWorkerShutdown cancels the run once the last worker exits, so the
// stats reporter stops too.
func (c *Crawler) handleWorkerShutdown(id int) {
	c.workersMutex.Lock()
	c.activeWorkers--
	last := c.activeWorkers == 0
	c.workersMutex.Unlock()
	if last {
		c.cancel()
	}
	c.logger.Debug("worker stopped", "worker_id", id)
}

func (c *Crawler) limitReached() bool {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.config.Limit > 0 && c.stats.RequestsHandled >= c.config.Limit
}

func (c *Crawler) workerSleep() {
	timer := time.NewTimer(c.config.RequestDelay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
	case <-timer.C:
	}
}

// processRequest fetches one queued request and settles it: marked handled on
// success or permanent failure, reclaimed for retry on transient failure.
func (c *Crawler) processRequest(id int, req *request.Request) {
	if err := c.limiter.Wait(c.ctx, req.URL); err != nil {
		// Cancelled while waiting; return the request so another run
		// picks it up.
		c.reclaim(id, req)
		return
	}

	result, err := c.fetcher.Do(c.ctx, req)
	if err != nil {
		c.handleFetchFailure(id, req, err)
		return
	}

	if result.StatusCode >= 500 || result.StatusCode == 429 {
		c.handleFetchFailure(id, req, fmt.Errorf("server returned status %d", result.StatusCode))
		return
	}

	if result.StatusCode < 400 && isHTML(result.ContentType) {
		c.enqueueLinks(id, result)
	}

	if _, err := c.queue.MarkRequestHandled(c.ctx, req); err != nil {
		c.logger.Error("worker failed to mark request handled", "worker_id", id, "url", req.URL, "error", err)
		return
	}

	c.statsMutex.Lock()
	c.stats.RequestsHandled++
	c.statsMutex.Unlock()

	c.logger.Info("worker processed request", "worker_id", id, "url", req.URL, "status", result.StatusCode)
}

// handleFetchFailure records the error on the request and either reclaims it
// for another attempt or, when retries are exhausted, marks it handled so the
// queue can finish.
func (c *Crawler) handleFetchFailure(id int, req *request.Request, fetchErr error) {
	req.PushErrorMessage(fetchErr)
	req.RetryCount++

	if req.NoRetry || req.RetryCount > c.config.MaxRetries {
		c.logger.Warn("giving up on request", "worker_id", id, "url", req.URL, "retries", req.RetryCount, "error", fetchErr)
		if _, err := c.queue.MarkRequestHandled(c.ctx, req); err != nil {
			c.logger.Error("worker failed to mark failed request handled", "worker_id", id, "url", req.URL, "error", err)
		}
		c.statsMutex.Lock()
		c.stats.ErrorCount++
		c.statsMutex.Unlock()
		return
	}

	c.logger.Debug("reclaiming request for retry", "worker_id", id, "url", req.URL, "retry", req.RetryCount, "error", fetchErr)
	c.reclaim(id, req)
}

func (c *Crawler) reclaim(id int, req *request.Request) {
	if _, err := c.queue.ReclaimRequest(c.ctx, req, queue.ReclaimOptions{}); err != nil {
		c.logger.Error("worker failed to reclaim request", "worker_id", id, "url", req.URL, "error", err)
	}
}

// enqueueLinks extracts links from a fetched page and adds the crawlable ones
// to the queue. The queue's dedup makes re-adding known URLs a cheap no-op.
func (c *Crawler) enqueueLinks(id int, result *FetchResult) {
	links, err := c.extractor.ExtractLinks(result.FinalURL, result.Body)
	if err != nil {
		c.logger.Warn("worker failed to parse page", "worker_id", id, "url", result.FinalURL, "error", err)
		return
	}

	enqueued := 0
	for _, link := range links {
		if !c.shouldCrawlURL(link.URL) {
			continue
		}
		req, err := request.New(link.URL, request.Options{})
		if err != nil {
			continue
		}
		info, err := c.queue.AddRequest(c.ctx, req, queue.AddOptions{})
		if err != nil {
			c.logger.Error("worker failed to enqueue link", "worker_id", id, "url", link.URL, "error", err)
			return
		}
		if !info.WasAlreadyPresent {
			enqueued++
		}
	}

	if enqueued > 0 {
		c.logger.Debug("worker enqueued links", "worker_id", id, "source", result.FinalURL, "count", enqueued)
	}
}

// shouldCrawlURL applies the host allowlist and the include/exclude patterns.
func (c *Crawler) shouldCrawlURL(urlStr string) bool {
	if len(c.allowedHosts) > 0 {
		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			return false
		}
		if _, ok := c.allowedHosts[parsedURL.Host]; !ok {
			return false
		}
	}

	if len(c.includePatterns) > 0 {
		matched := false
		for _, re := range c.includePatterns {
			if re.MatchString(urlStr) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, re := range c.excludePatterns {
		if re.MatchString(urlStr) {
			return false
		}
	}

	return true
}

// statsReporter periodically logs crawl progress and queue counters.
func (c *Crawler) statsReporter() {
	defer c.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			meta, err := c.queue.GetMetadata(c.ctx)
			if err != nil {
				c.logger.Error("failed to get queue metadata", "error", err)
				continue
			}

			stats := c.GetStats()
			c.logger.Info("crawling stats",
				"handled", stats.RequestsHandled,
				"errors", stats.ErrorCount,
				"queue_total", meta.TotalRequestCount,
				"queue_pending", meta.PendingRequestCount,
				"duration", stats.Duration)
		}
	}
}

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml+xml")
}
