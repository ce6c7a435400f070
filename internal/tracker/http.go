package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ntran/leechcore/internal/bencode"
)

// defaultAnnounceIntervalSeconds is used when a tracker response omits
// interval, or returns a non-positive one.
const defaultAnnounceIntervalSeconds = 120

// httpClient announces to a single HTTP/HTTPS tracker endpoint.
type httpClient struct {
	baseURL *url.URL
	client  *http.Client
}

func newHTTPClient(u *url.URL, timeout time.Duration) *httpClient {
	return &httpClient{
		baseURL: u,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          20,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 15 * time.Second,
			},
			Timeout: timeout,
		},
	}
}

func (c *httpClient) Announce(ctx context.Context, params *AnnounceParams) (*AnnounceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(params), nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: announce request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tracker: announce returned status %d: %s", resp.StatusCode, body)
	}

	return parseAnnounceResponse(resp.Body)
}

func (c *httpClient) buildURL(params *AnnounceParams) string {
	u := *c.baseURL
	q := u.Query()

	q.Set("info_hash", string(params.InfoHash[:]))
	q.Set("peer_id", string(params.PeerID[:]))
	q.Set("port", strconv.Itoa(int(params.Port)))
	q.Set("uploaded", strconv.FormatUint(params.Uploaded, 10))
	q.Set("downloaded", strconv.FormatUint(params.Downloaded, 10))
	q.Set("left", strconv.FormatUint(params.Left, 10))
	q.Set("compact", "1")

	if params.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(params.NumWant))
	}
	if params.Event != EventNone {
		q.Set("event", params.Event.String())
	}
	if params.TrackerID != "" {
		q.Set("trackerid", params.TrackerID)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

func parseAnnounceResponse(r io.Reader) (*AnnounceResponse, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("tracker: read response body: %w", err)
	}

	raw, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("tracker: decode response: %w", err)
	}

	dict, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("tracker: response is not a dict, got %T", raw)
	}

	if reason, err := bencode.ToString(dict["failure reason"]); err == nil {
		return nil, fmt.Errorf("tracker: announce failed: %s", reason)
	}

	peers, err := decodePeers(dict)
	if err != nil {
		return nil, fmt.Errorf("tracker: peers: %w", err)
	}

	interval, err := bencode.ToInt(dict["interval"])
	if err != nil || interval <= 0 {
		interval = defaultAnnounceIntervalSeconds
	}

	minInterval, _ := bencode.ToInt(dict["min interval"])
	seeders, _ := bencode.ToInt(dict["complete"])
	leechers, _ := bencode.ToInt(dict["incomplete"])
	trackerID, _ := bencode.ToString(dict["tracker id"])

	return &AnnounceResponse{
		TrackerID:   trackerID,
		Interval:    time.Duration(interval) * time.Second,
		MinInterval: time.Duration(minInterval) * time.Second,
		Seeders:     seeders,
		Leechers:    leechers,
		Peers:       peers,
	}, nil
}
