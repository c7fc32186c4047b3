// Package result defines the data model shared across the fetch pipeline.
package result

import (
	"time"

	"github.com/hybridfetch/hybridfetch/internal/hash/sha256"
)

// Method identifies which fetch path produced a result.
type Method string

const (
	MethodHTTP    Method = "http"
	MethodBrowser Method = "browser"
)

// Stage distinguishes the first attempt on a URL from a browser escalation.
type Stage string

const (
	StagePrimary  Stage = "primary"
	StageFallback Stage = "fallback"
)

// Status is the closed terminal classification of one fetch attempt.
type Status string

// Every result carries exactly one of these; consumers switch exhaustively.
const (
	StatusSuccess         Status = "success"
	StatusRobotsBlocked   Status = "robots_blocked"
	StatusCaptchaDetected Status = "captcha_detected"
	StatusHTTPError       Status = "http_error"
	StatusTimeout         Status = "timeout"
	StatusTooLarge        Status = "too_large"
	StatusInvalidURL      Status = "invalid_url"
	StatusOtherError      Status = "other_error"
)

// BlockType categorizes anti-bot interference for persisted stats.
type BlockType string

const (
	BlockNone      BlockType = "none"
	BlockCaptcha   BlockType = "captcha"
	BlockRateLimit BlockType = "rate_limit"
	BlockRobots    BlockType = "robots"
	BlockOther     BlockType = "other"
)

// ShardStatus is the lifecycle state of one shard.
type ShardStatus string

const (
	ShardPending    ShardStatus = "pending"
	ShardInProgress ShardStatus = "in_progress"
	ShardCompleted  ShardStatus = "completed"
	ShardFailed     ShardStatus = "failed"
)

// maxErrorMessageLen bounds persisted error messages.
const maxErrorMessageLen = 200

// UrlJob is one unit of work handed to a fetch strategy.
type UrlJob struct {
	URL          string `json:"url"`
	DynamicHint  *bool  `json:"is_dynamic_hint,omitempty"`
	ShardID      int    `json:"shard_id"`
	IndexInShard int    `json:"index_in_shard"`
}

// FetchResult is the in-memory outcome of one fetch attempt. It carries the
// raw content while it travels between strategy, router and runner; content is
// stripped on conversion to UrlStat and never persisted.
type FetchResult struct {
	URL              string
	Domain           string
	Method           Method
	Stage            Stage
	Status           Status
	HTTPStatus       *int
	LatencyMS        *int64
	ContentLen       int
	Encoding         string
	Retries          int
	CaptchaDetected  bool
	RobotsDisallowed bool
	ErrorKind        string
	ErrorMessage     string
	StartedAt        time.Time
	FinishedAt       time.Time
	ShardID          int
	BlockType        BlockType
	BlockVendor      string
	Content          string
}

// New seeds a FetchResult for a job before the attempt runs. The status starts
// at other_error so an unexpected exit path still yields a terminal record.
func New(job UrlJob, method Method, stage Stage, now time.Time) FetchResult {
	return FetchResult{
		URL:        job.URL,
		Method:     method,
		Stage:      stage,
		Status:     StatusOtherError,
		BlockType:  BlockNone,
		StartedAt:  now,
		FinishedAt: now,
		ShardID:    job.ShardID,
	}
}

// Finish stamps the completion time and derives latency from StartedAt.
func (r *FetchResult) Finish(now time.Time) {
	r.FinishedAt = now
	ms := now.Sub(r.StartedAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.LatencyMS = &ms
}

// Fail records a terminal non-success classification.
func (r *FetchResult) Fail(status Status, kind string, err error) {
	r.Status = status
	r.ErrorKind = kind
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}

// ResetAttempt clears per-attempt outcome fields before a retry, so a failed
// attempt cannot leak its diagnostics into the terminal record. A successful
// retry must end up with a status code and no error fields, and vice versa.
func (r *FetchResult) ResetAttempt() {
	r.HTTPStatus = nil
	r.ErrorKind = ""
	r.ErrorMessage = ""
	r.Content = ""
	r.ContentLen = 0
	r.Encoding = ""
}

// UrlStat is the persisted form of FetchResult with content stripped and
// block classification attached. One JSON object per line in the stats log.
type UrlStat struct {
	URL              string    `json:"url"`
	Domain           string    `json:"domain"`
	Method           Method    `json:"method"`
	Stage            Stage     `json:"stage"`
	Status           Status    `json:"status"`
	HTTPStatus       *int      `json:"http_status"`
	LatencyMS        *int64    `json:"latency_ms"`
	ContentLen       int       `json:"content_len"`
	Encoding         string    `json:"encoding,omitempty"`
	Retries          int       `json:"retries"`
	CaptchaDetected  bool      `json:"captcha_detected"`
	RobotsDisallowed bool      `json:"robots_disallowed"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	ShardID          int       `json:"shard_id"`
	BlockType        BlockType `json:"block_type"`
	BlockVendor      string    `json:"block_vendor,omitempty"`
	ContentSHA256    string    `json:"content_sha256,omitempty"`
}

// Stat converts a FetchResult into its persisted form. Content is dropped;
// only its hash survives so duplicate pages remain detectable downstream.
func (r FetchResult) Stat() UrlStat {
	s := UrlStat{
		URL:              r.URL,
		Domain:           r.Domain,
		Method:           r.Method,
		Stage:            r.Stage,
		Status:           r.Status,
		HTTPStatus:       r.HTTPStatus,
		LatencyMS:        r.LatencyMS,
		ContentLen:       r.ContentLen,
		Encoding:         r.Encoding,
		Retries:          r.Retries,
		CaptchaDetected:  r.CaptchaDetected,
		RobotsDisallowed: r.RobotsDisallowed,
		ErrorKind:        r.ErrorKind,
		ErrorMessage:     truncate(r.ErrorMessage, maxErrorMessageLen),
		Timestamp:        r.FinishedAt,
		ShardID:          r.ShardID,
		BlockType:        r.BlockType,
		BlockVendor:      r.BlockVendor,
	}
	if s.BlockType == "" {
		s.BlockType = BlockNone
	}
	if r.Content != "" {
		s.ContentSHA256 = sha256.Hex([]byte(r.Content))
	}
	return s
}

// RunSummary aggregates one run's stats rows into rates, shares and
// per-method latency percentiles. Written once per run as run_summary.json.
type RunSummary struct {
	TotalURLs            int     `json:"total_urls"`
	StatsRows            int     `json:"stats_rows"`
	SuccessRate          float64 `json:"success_rate"`
	HTTPErrorRate        float64 `json:"http_error_rate"`
	TimeoutRate          float64 `json:"timeout_rate"`
	CaptchaRate          float64 `json:"captcha_rate"`
	RobotsBlockRate      float64 `json:"robots_block_rate"`
	HTTPShare            float64 `json:"http_share"`
	BrowserShare         float64 `json:"browser_share"`
	P50LatencyHTTPMS     *int64  `json:"p50_latency_http_ms"`
	P95LatencyHTTPMS     *int64  `json:"p95_latency_http_ms"`
	P50LatencyBrowserMS  *int64  `json:"p50_latency_browser_ms"`
	P95LatencyBrowserMS  *int64  `json:"p95_latency_browser_ms"`
	AvgContentLenHTTP    *int64  `json:"avg_content_len_http"`
	AvgContentLenBrowser *int64  `json:"avg_content_len_browser"`
}

// ShardCheckpoint records a shard's progress for crash recovery. A shard left
// in_progress is re-run in full; only completed short-circuits reprocessing.
type ShardCheckpoint struct {
	RunID         string      `json:"run_id"`
	ShardID       int         `json:"shard_id"`
	URLsTotal     int         `json:"urls_total"`
	URLsDone      int         `json:"urls_done"`
	LastUpdatedAt time.Time   `json:"last_updated_at"`
	Status        ShardStatus `json:"status"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
