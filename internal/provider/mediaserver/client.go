// Package mediaserver talks to Jellyfin and Emby servers, which share the
// same Items API.
package mediaserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	tokenHeader     = "X-Emby-Token"
	defaultPageSize = 500
	defaultTimeout  = 30 * time.Second
)

// Item is the subset of the Items API response used by the catalog
type Item struct {
	ID                string   `json:"Id"`
	Name              string   `json:"Name"`
	Album             string   `json:"Album"`
	AlbumArtist       string   `json:"AlbumArtist"`
	Artists           []string `json:"Artists"`
	IndexNumber       int      `json:"IndexNumber"`
	ParentIndexNumber int      `json:"ParentIndexNumber"`
	RunTimeTicks      int64    `json:"RunTimeTicks"`
	ProductionYear    int      `json:"ProductionYear"`
	Genres            []string `json:"Genres"`
	PlaylistItemID    string   `json:"PlaylistItemId"`
	DateCreated       apiTime  `json:"DateCreated"`
	DateLastSaved     apiTime  `json:"DateLastSaved"`
}

// QueryResult is a page of items
type QueryResult struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// apiTime accepts the server's timestamps, which carry seven fractional
// digits and sometimes no zone. Unparseable values decode as zero.
type apiTime struct {
	time.Time
}

var apiTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

func (t *apiTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range apiTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

func (t apiTime) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// Client is an authenticated Items API client
type Client struct {
	http     *resty.Client
	userID   string
	pageSize int
}

// ClientOptions configures a Client
type ClientOptions struct {
	BaseURL  string
	Token    string
	UserID   string
	PageSize int
	Timeout  time.Duration
}

// NewClient creates a client. The token is sent on every request.
func NewClient(opts ClientOptions) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader(tokenHeader, opts.Token).
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: client, userID: opts.UserID, pageSize: opts.PageSize}
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode())
	}
	return nil
}

// pages walks a paged listing, calling onPage after every page with the
// number of items fetched so far and the server's total
func (c *Client) pages(ctx context.Context, path string, query map[string]string, onPage func(fetched, total int) bool) ([]Item, error) {
	var items []Item
	start := 0
	for {
		q := make(map[string]string, len(query)+2)
		for k, v := range query {
			q[k] = v
		}
		q["StartIndex"] = strconv.Itoa(start)
		q["Limit"] = strconv.Itoa(c.pageSize)

		var page QueryResult
		if err := c.get(ctx, path, q, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		start += len(page.Items)

		if onPage != nil && !onPage(start, page.TotalRecordCount) {
			return nil, ctx.Err()
		}
		if len(page.Items) == 0 || start >= page.TotalRecordCount {
			return items, nil
		}
	}
}

// AudioItems lists every audio item visible to the user
func (c *Client) AudioItems(ctx context.Context, onPage func(fetched, total int) bool) ([]Item, error) {
	return c.pages(ctx, "/Users/"+c.userID+"/Items", map[string]string{
		"Recursive":        "true",
		"IncludeItemTypes": "Audio",
		"Fields":           "Genres,DateCreated",
	}, onPage)
}

// Playlists lists the user's playlists
func (c *Client) Playlists(ctx context.Context) ([]Item, error) {
	return c.pages(ctx, "/Users/"+c.userID+"/Items", map[string]string{
		"Recursive":        "true",
		"IncludeItemTypes": "Playlist",
		"Fields":           "DateCreated,DateLastSaved",
	}, nil)
}

// PlaylistItems lists the entries of a playlist in order
func (c *Client) PlaylistItems(ctx context.Context, playlistID string) ([]Item, error) {
	return c.pages(ctx, "/Playlists/"+playlistID+"/Items", map[string]string{
		"UserId": c.userID,
	}, nil)
}

// Item fetches a single item
func (c *Client) Item(ctx context.Context, id string) (*Item, error) {
	var item Item
	if err := c.get(ctx, "/Users/"+c.userID+"/Items/"+id, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// AddToPlaylist appends items to a playlist
func (c *Client) AddToPlaylist(ctx context.Context, playlistID string, itemIDs []string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"Ids":    strings.Join(itemIDs, ","),
			"UserId": c.userID,
		}).
		Post("/Playlists/" + playlistID + "/Items")
	if err != nil {
		return fmt.Errorf("failed to add playlist items: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("add playlist items returned status %d", resp.StatusCode())
	}
	return nil
}

// RemoveFromPlaylist removes playlist entries by entry id
func (c *Client) RemoveFromPlaylist(ctx context.Context, playlistID string, entryIDs []string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("EntryIds", strings.Join(entryIDs, ",")).
		Delete("/Playlists/" + playlistID + "/Items")
	if err != nil {
		return fmt.Errorf("failed to remove playlist items: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("remove playlist items returned status %d", resp.StatusCode())
	}
	return nil
}
