package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/pkg/errors"
)

const (
	feedPath       = "/api/v1/downloads/feed"
	minBackoff     = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	requestLeeway  = 10 * time.Second
	maxErrorBodyKB = 4
)

// Client long-polls the feed endpoint on behalf of one owner.
type Client struct {
	baseURL    string
	token      string
	wait       time.Duration
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(baseURL, token string, wait time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		wait:       wait,
		httpClient: &http.Client{Timeout: wait + requestLeeway},
		logger:     log,
	}
}

// Fetch performs one subscribe call.
func (c *Client) Fetch(ctx context.Context, since *int64) (*models.FeedBatch, error) {
	q := url.Values{}
	if since != nil {
		q.Set("since", strconv.FormatInt(*since, 10))
	}
	q.Set("wait", strconv.Itoa(int(c.wait/time.Second)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+feedPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "feed.Client.Fetch")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "feed.Client.Fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyKB<<10))
		return nil, fmt.Errorf("feed request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	batch := &models.FeedBatch{}
	if err = json.NewDecoder(resp.Body).Decode(batch); err != nil {
		return nil, errors.Wrap(err, "feed.Client.Fetch.Decode")
	}
	return batch, nil
}

// Follow keeps view converged with the owner's feed until ctx ends. onChange
// runs after every batch that changed the view. Transport errors back off
// exponentially; a gap resyncs from a snapshot on the next call.
func (c *Client) Follow(ctx context.Context, view *View, onChange func(*View)) error {
	backoff := minBackoff
	for {
		batch, err := c.Fetch(ctx, view.Cursor())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warnf("feed fetch failed, retrying in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff

		if err = view.Apply(batch); err != nil {
			if errors.Is(err, ErrGap) {
				c.logger.Warnf("feed gap after sequence %d, resyncing", view.Sequence())
				continue
			}
			return err
		}
		if !batch.Empty() && onChange != nil {
			onChange(view)
		}
	}
}
