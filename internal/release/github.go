package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrNoReleases     = errors.New("release: no releases available")
	ErrReleaseAPI     = errors.New("release: github api request failed")
	ErrUnknownVersion = errors.New("release: unknown version")
)

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Release is the subset of the GitHub release document the installer reads.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"published_at"`
	Prerelease  bool      `json:"prerelease"`
	Assets      []Asset   `json:"assets"`
}

// Client lists releases from a GitHub releases endpoint.
type Client struct {
	API  string
	HTTP *http.Client
}

func NewClient(api string, timeout time.Duration) Client {
	return Client{API: api, HTTP: &http.Client{Timeout: timeout}}
}

// Releases returns the n most recent releases, newest first.
func (c Client) Releases(ctx context.Context, n int) ([]Release, error) {
	u, err := url.Parse(c.API)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", ErrReleaseAPI, c.API, err)
	}
	if n > 0 {
		q := u.Query()
		q.Set("per_page", strconv.Itoa(n))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request : %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReleaseAPI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", ErrReleaseAPI, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body : %w", err)
	}
	var releases []Release
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, fmt.Errorf("unmarshalling releases: %w", err)
	}
	if n > 0 && len(releases) > n {
		releases = releases[:n]
	}
	return releases, nil
}

// ListTags returns the tag names of the n most recent releases.
func (c Client) ListTags(ctx context.Context, n int) ([]string, error) {
	releases, err := c.Releases(ctx, n)
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(releases))
	for _, r := range releases {
		if r.TagName == "" {
			continue
		}
		tags = append(tags, r.TagName)
	}
	if len(tags) == 0 {
		return nil, ErrNoReleases
	}
	return tags, nil
}
