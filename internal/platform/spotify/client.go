package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/crate-api/internal/fetcher"
)

const (
	defaultBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token"

	// pageLimit is the page size requested from listing endpoints.
	pageLimit = 50

	// tokenSlack is subtracted from the token lifetime so a token is
	// refreshed before it can expire mid-request.
	tokenSlack = 30 * time.Second
)

// client wraps the provider's web API: client-credentials auth with
// token caching, JSON endpoints, and audio retrieval.
type client struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func newClient(httpClient *http.Client, clientID, clientSecret, baseURL, tokenURL string) *client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &client{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// token returns a valid access token, refreshing it when the cached one
// is missing or near expiry.
func (c *client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fetcher.Permanent("build token request", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fetcher.Transient("token request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fetcher.Permanent("provider credentials rejected",
			fmt.Errorf("token endpoint returned %d", resp.StatusCode))
	default:
		return "", fetcher.Transient("token endpoint",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fetcher.Transient("decode token response", err)
	}
	if tok.AccessToken == "" {
		return "", fetcher.Transient("token endpoint", fmt.Errorf("empty access token"))
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSlack)
	return c.accessToken, nil
}

// invalidateToken drops the cached token so the next call fetches a
// fresh one.
func (c *client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

// getJSON performs an authenticated GET of an API path (or an absolute
// pagination URL) and decodes the JSON response into out. A 401 gets
// one retry with a fresh token.
func (c *client) getJSON(ctx context.Context, pathOrURL string, out any) error {
	retried := false
	for {
		err := c.doGetJSON(ctx, pathOrURL, out)
		if err == nil {
			return nil
		}
		if !retried && isAuthExpired(err) {
			c.invalidateToken()
			retried = true
			continue
		}
		return err
	}
}

// errAuthExpired marks a 401 from an API endpoint, distinct from the
// token endpoint rejecting credentials outright.
type authExpiredError struct{}

func (authExpiredError) Error() string { return "access token expired" }

func isAuthExpired(err error) bool {
	var e authExpiredError
	return errors.As(err, &e)
}

func (c *client) doGetJSON(ctx context.Context, pathOrURL string, out any) error {
	resp, err := c.doGet(ctx, pathOrURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fetcher.Transient("decode response", err)
	}
	return nil
}

// doGet performs an authenticated GET and maps non-2xx statuses to
// fetch errors. The caller owns the response body on success.
func (c *client) doGet(ctx context.Context, pathOrURL string) (*http.Response, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := pathOrURL
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = c.baseURL + pathOrURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fetcher.Permanent("build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fetcher.Transient("provider request", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	return nil, mapStatus(resp)
}

// mapStatus converts a non-2xx API response into a transient or
// permanent fetch error. Client errors about the referenced entity are
// permanent; rate limits and server trouble are transient.
func mapStatus(resp *http.Response) error {
	var body apiError
	msg := ""
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		msg = body.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return authExpiredError{}
	case resp.StatusCode == http.StatusTooManyRequests:
		return fetcher.Transient("rate limited",
			fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	case resp.StatusCode == http.StatusNotFound:
		return fetcher.Permanent("entity not found",
			fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fetcher.Permanent("provider rejected request",
			fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	default:
		return fetcher.Transient("provider error",
			fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
}

// getTrack fetches a single track's metadata.
func (c *client) getTrack(ctx context.Context, id string) (*track, error) {
	var t track
	if err := c.getJSON(ctx, "/tracks/"+url.PathEscape(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// getAlbum fetches an album's metadata.
func (c *client) getAlbum(ctx context.Context, id string) (*albumRef, error) {
	var a albumRef
	if err := c.getJSON(ctx, "/albums/"+url.PathEscape(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// listAlbumTracks walks every page of an album's track listing.
func (c *client) listAlbumTracks(ctx context.Context, albumID string) ([]track, error) {
	var tracks []track
	next := fmt.Sprintf("/albums/%s/tracks?limit=%d", url.PathEscape(albumID), pageLimit)
	for next != "" {
		var page trackPage
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		tracks = append(tracks, page.Items...)
		next = page.Next
	}
	return tracks, nil
}

// listArtistAlbums walks every page of an artist's discography,
// requesting the given include_groups.
func (c *client) listArtistAlbums(ctx context.Context, artistID string, groups []string) ([]album, error) {
	var albums []album
	next := fmt.Sprintf("/artists/%s/albums?limit=%d&include_groups=%s",
		url.PathEscape(artistID), pageLimit, strings.Join(groups, ","))
	for next != "" {
		var page albumPage
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		albums = append(albums, page.Items...)
		next = page.Next
	}
	return albums, nil
}

// downloadAudio streams a track's audio to w.
func (c *client) downloadAudio(ctx context.Context, trackID string, w io.Writer) error {
	resp, err := c.doGet(ctx, "/tracks/"+url.PathEscape(trackID)+"/audio")
	if err != nil {
		if isAuthExpired(err) {
			c.invalidateToken()
			if resp, err = c.doGet(ctx, "/tracks/"+url.PathEscape(trackID)+"/audio"); err != nil {
				return err
			}
		} else {
			return err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fetcher.Transient("audio transfer", err)
	}
	return nil
}
