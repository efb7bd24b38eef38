package utils

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// FeedQuery holds the subscribe parameters of the feed endpoints.
type FeedQuery struct {
	Since *int64
	Wait  time.Duration
}

// GetFeedQuery reads ?since= and ?wait= from the request. A missing since asks
// for a snapshot. wait accepts whole seconds or a duration like "10s" and is
// capped at maxWait.
func GetFeedQuery(c echo.Context, maxWait time.Duration) (*FeedQuery, error) {
	q := &FeedQuery{}

	if raw := c.QueryParam("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid since: %w", err)
		}
		q.Since = &since
	}

	if raw := c.QueryParam("wait"); raw != "" {
		wait, err := parseWait(raw)
		if err != nil {
			return nil, err
		}
		q.Wait = wait
	}
	if q.Wait < 0 {
		q.Wait = 0
	}
	if q.Wait > maxWait {
		q.Wait = maxWait
	}
	return q, nil
}

func parseWait(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid wait: %w", err)
	}
	return d, nil
}
