package biztel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxPageSize is the provider's hard cap on records per history request.
const MaxPageSize = 10000

type Credentials struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// Client talks to one tenant's telephony account. All requests made through a
// Client share a single rate gate, so concurrent callers are serialized.
type Client struct {
	Credentials Credentials
	HTTPClient  *http.Client
	// MinInterval is the minimum gap between the end of one request and the
	// start of the next.
	MinInterval  time.Duration
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	// Location is used for zoneless timestamps in both directions.
	Location *time.Location

	mu        sync.Mutex
	lastReqAt time.Time
}

func NewClient(creds Credentials) *Client {
	return &Client{
		Credentials:  creds,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		MinInterval:  100 * time.Millisecond,
		MaxAttempts:  3,
		RetryInitial: time.Second,
		RetryMax:     10 * time.Second,
		Location:     time.UTC,
	}
}

type Query struct {
	Start     time.Time
	End       time.Time
	QueueID   *int
	AccountID *int
	Events    []EventType
	Limit     int
}

func (q Query) params(loc *time.Location) url.Values {
	limit := q.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	events := q.Events
	if len(events) == 0 {
		events = CompletedEvents
	}
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, string(e))
	}

	v := url.Values{}
	v.Set("created_at_start", q.Start.In(loc).Format(timeLayout))
	v.Set("created_at_end", q.End.In(loc).Format(timeLayout))
	v.Set("limit", strconv.Itoa(limit))
	v.Set("event", strings.Join(names, ","))
	if q.QueueID != nil {
		v.Set("queue_id", strconv.Itoa(*q.QueueID))
	}
	if q.AccountID != nil {
		v.Set("account_id", strconv.Itoa(*q.AccountID))
	}
	return v
}

// FetchCallHistory performs a single history request. At most MaxPageSize
// records are returned.
func (c *Client) FetchCallHistory(ctx context.Context, q Query) ([]CallHistoryRecord, error) {
	body, err := c.request(ctx, "/public/api/v1/queue_log", q.params(c.location()))
	if err != nil {
		return nil, err
	}
	records, err := decodeHistory(body, c.location())
	if err != nil {
		return nil, fmt.Errorf("decode call history: %w", err)
	}
	return records, nil
}

// CallHistoryPages walks the time window page by page. The provider has no
// cursor, so each following page starts one second after the latest start time
// seen so far. Walking stops on an empty or short page, or when fn returns an
// error.
func (c *Client) CallHistoryPages(ctx context.Context, q Query, fn func(page []CallHistoryRecord) error) error {
	current := q.Start
	for current.Before(q.End) {
		page := q
		page.Start = current
		page.Limit = MaxPageSize

		records, err := c.FetchCallHistory(ctx, page)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if err := fn(records); err != nil {
			return err
		}
		if len(records) < MaxPageSize {
			return nil
		}

		next := latestStart(records).Add(time.Second)
		if !next.After(current) {
			return fmt.Errorf("call history pagination stalled at %s", current.Format(time.RFC3339))
		}
		current = next
	}
	return nil
}

// FetchCallHistoryPaginated collects every page of the window. Records are
// de-duplicated by request id and returned in non-decreasing start time order.
func (c *Client) FetchCallHistoryPaginated(ctx context.Context, q Query) ([]CallHistoryRecord, error) {
	var all []CallHistoryRecord
	seen := map[string]struct{}{}
	err := c.CallHistoryPages(ctx, q, func(page []CallHistoryRecord) error {
		for _, r := range page {
			if r.RequestID != "" {
				if _, dup := seen[r.RequestID]; dup {
					continue
				}
				seen[r.RequestID] = struct{}{}
			}
			all = append(all, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].StartTime.Before(all[j].StartTime)
	})
	return all, nil
}

// DownloadRecording fetches the raw audio of a call. Recordings only stay
// available on the provider side for about a week.
func (c *Client) DownloadRecording(ctx context.Context, requestID string, contentType ContentType) ([]byte, error) {
	if contentType == "" {
		contentType = ContentMonaural
	}
	params := url.Values{}
	params.Set("content_type", string(contentType))
	return c.request(ctx, "/public/api/v1/monitor/"+url.PathEscape(requestID), params)
}

// TestConnection issues a minimal history query over the last day and
// returns how many records came back.
func (c *Client) TestConnection(ctx context.Context) (int, error) {
	now := time.Now()
	records, err := c.FetchCallHistory(ctx, Query{Start: now.Add(-24 * time.Hour), End: now, Limit: 1})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (c *Client) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c *Client) request(ctx context.Context, path string, params url.Values) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.RetryInitial
	bo.MaxInterval = c.RetryMax
	bo.MaxElapsedTime = 0

	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var body []byte
	op := func() error {
		b, err := c.doOnce(ctx, path, params)
		if err != nil {
			if retryable(ctx, err) {
				return err
			}
			return backoff.Permanent(err)
		}
		body = b
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// doOnce performs one HTTP round trip behind the rate gate. The gate is held
// for the whole round trip and the interval is measured from its end.
func (c *Client) doOnce(ctx context.Context, path string, params url.Values) ([]byte, error) {
	c.mu.Lock()
	defer func() {
		c.lastReqAt = time.Now()
		c.mu.Unlock()
	}()

	if wait := time.Until(c.lastReqAt.Add(c.MinInterval)); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	endpoint := strings.TrimRight(c.Credentials.BaseURL, "/") + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.Credentials.APIKey)
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func latestStart(records []CallHistoryRecord) time.Time {
	var latest time.Time
	for _, r := range records {
		if r.StartTime.After(latest) {
			latest = r.StartTime
		}
	}
	return latest
}
