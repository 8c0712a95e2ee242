package crawler

import "time"

// CrawlStats tracks progress of a crawl run.
type CrawlStats struct {
	RequestsHandled int
	ErrorCount      int
	StartTime       time.Time
	Duration        time.Duration
}
