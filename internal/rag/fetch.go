package rag

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultMaxBytes     = 20 << 20
	defaultFetchTimeout = 60 * time.Second
)

// ErrTooLarge is returned when a download exceeds the configured limit.
var ErrTooLarge = errors.New("rag: document too large")

// Document is a downloaded file.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Fetcher downloads uploaded documents from the chat platform's file URL.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher returns a Fetcher. Zero values select a 20 MiB limit and a 60s
// timeout.
func NewFetcher(maxBytes int64, timeout time.Duration) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// Fetch downloads rawURL. The URL is never included in errors because
// platform file URLs can embed the bot token.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.New("rag: fetch: invalid document url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rag: fetch: build request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Errorf("rag: fetch %s: %v", path.Base(u.Path), scrub(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("rag: fetch %s: unexpected status %d", path.Base(u.Path), resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "rag: fetch: read body")
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}

	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	return &Document{Name: path.Base(u.Path), ContentType: ct, Data: data}, nil
}

// scrub drops the URL from *url.Error values.
func scrub(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
