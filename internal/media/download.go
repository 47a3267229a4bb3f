package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// download fetches url into dest. The caller owns dest's parent scratch
// directory and its cleanup.
func (e *Engine) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("media: create download request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("media: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media: download %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("media: create scratch file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("media: write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("media: close scratch file: %w", err)
	}
	return nil
}
