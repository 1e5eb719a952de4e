// Package plex imports tracks and audio playlists from a Plex Media Server.
package plex

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	tokenHeader     = "X-Plex-Token"
	trackType       = "10"
	defaultPageSize = 500
	defaultTimeout  = 30 * time.Second
)

// Metadata is one entry of a MediaContainer
type Metadata struct {
	RatingKey        string  `json:"ratingKey"`
	Key              string  `json:"key"`
	Title            string  `json:"title"`
	GrandparentTitle string  `json:"grandparentTitle"`
	OriginalTitle    string  `json:"originalTitle"`
	ParentTitle      string  `json:"parentTitle"`
	Index            int     `json:"index"`
	ParentIndex      int     `json:"parentIndex"`
	Duration         int64   `json:"duration"`
	Year             int     `json:"year"`
	AddedAt          int64   `json:"addedAt"`
	UpdatedAt        int64   `json:"updatedAt"`
	Smart            bool    `json:"smart"`
	PlaylistItemID   int64   `json:"playlistItemID"`
	Genre            []Tag   `json:"Genre"`
	Media            []Media `json:"Media"`
}

// Tag is a named Plex tag such as a genre
type Tag struct {
	Tag string `json:"tag"`
}

// Media describes an encoded rendition of a track
type Media struct {
	Container string `json:"container"`
	Part      []Part `json:"Part"`
}

// Part is a file backing a Media entry
type Part struct {
	File string `json:"file"`
	Size int64  `json:"size"`
}

type container struct {
	MediaContainer struct {
		Size              int        `json:"size"`
		TotalSize         int        `json:"totalSize"`
		MachineIdentifier string     `json:"machineIdentifier"`
		Metadata          []Metadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

// Client is an authenticated Plex API client
type Client struct {
	http     *resty.Client
	pageSize int

	mu        sync.Mutex
	machineID string
}

// NewClient creates a client for baseURL authenticated by token
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader(tokenHeader, token).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: client, pageSize: defaultPageSize}
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) (*container, error) {
	var out container
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode())
	}
	return &out, nil
}

// paged fetches every page of a listing using container start and size
func (c *Client) paged(ctx context.Context, path string, query map[string]string, onPage func(fetched, total int) bool) ([]Metadata, error) {
	var items []Metadata
	start := 0
	for {
		q := map[string]string{
			"X-Plex-Container-Start": strconv.Itoa(start),
			"X-Plex-Container-Size":  strconv.Itoa(c.pageSize),
		}
		for k, v := range query {
			q[k] = v
		}

		page, err := c.get(ctx, path, q)
		if err != nil {
			return nil, err
		}
		mc := page.MediaContainer
		items = append(items, mc.Metadata...)
		start += len(mc.Metadata)

		total := mc.TotalSize
		if total == 0 {
			total = start
		}
		if onPage != nil && !onPage(start, total) {
			return nil, ctx.Err()
		}
		if len(mc.Metadata) == 0 || start >= total {
			return items, nil
		}
	}
}

// Tracks lists every track of a library section
func (c *Client) Tracks(ctx context.Context, sectionID string, onPage func(fetched, total int) bool) ([]Metadata, error) {
	return c.paged(ctx, "/library/sections/"+sectionID+"/all", map[string]string{"type": trackType}, onPage)
}

// Playlists lists audio playlists
func (c *Client) Playlists(ctx context.Context) ([]Metadata, error) {
	return c.paged(ctx, "/playlists", map[string]string{"playlistType": "audio"}, nil)
}

// Playlist fetches the header of one playlist
func (c *Client) Playlist(ctx context.Context, id string) (*Metadata, error) {
	page, err := c.get(ctx, "/playlists/"+id, nil)
	if err != nil {
		return nil, err
	}
	if len(page.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("playlist %s not found", id)
	}
	return &page.MediaContainer.Metadata[0], nil
}

// PlaylistItems lists the entries of a playlist in order
func (c *Client) PlaylistItems(ctx context.Context, id string) ([]Metadata, error) {
	return c.paged(ctx, "/playlists/"+id+"/items", nil, nil)
}

// MachineIdentifier returns the server's identifier, fetched once
func (c *Client) MachineIdentifier(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machineID != "" {
		return c.machineID, nil
	}
	page, err := c.get(ctx, "/identity", nil)
	if err != nil {
		return "", err
	}
	if page.MediaContainer.MachineIdentifier == "" {
		return "", fmt.Errorf("server did not report a machine identifier")
	}
	c.machineID = page.MediaContainer.MachineIdentifier
	return c.machineID, nil
}

// AddToPlaylist appends tracks by rating key
func (c *Client) AddToPlaylist(ctx context.Context, playlistID string, ratingKeys []string) error {
	machineID, err := c.MachineIdentifier(ctx)
	if err != nil {
		return err
	}
	uri := fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s", machineID, strings.Join(ratingKeys, ","))

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("uri", uri).
		Put("/playlists/" + playlistID + "/items")
	if err != nil {
		return fmt.Errorf("failed to add playlist items: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("add playlist items returned status %d", resp.StatusCode())
	}
	return nil
}

// RemoveFromPlaylist deletes one playlist entry
func (c *Client) RemoveFromPlaylist(ctx context.Context, playlistID string, itemID int64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/playlists/%s/items/%d", playlistID, itemID))
	if err != nil {
		return fmt.Errorf("failed to remove playlist item: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("remove playlist item returned status %d", resp.StatusCode())
	}
	return nil
}
