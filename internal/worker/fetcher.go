package worker

import (
	"fmt"
	"net/url"

	"github.com/amankumarsingh77/media-downloader/internal/models"
)

// ValidateSource rejects jobs whose source cannot be fetched at all. It runs
// on the locked candidate before a claim, so a bad URL fails without an attempt.
func ValidateSource(d *models.Download) error {
	u, err := url.Parse(d.SourceURL)
	if err != nil {
		return fmt.Errorf("invalid source url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported source url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("source url has no host")
	}
	return nil
}
