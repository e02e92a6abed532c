package library

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const itemFields = "ProviderIds,Overview,ProductionYear,ImageTags,LocationType"

// EmbyClient reads items and server info from the Emby REST API.
type EmbyClient struct {
	baseURL    string
	apiKey     string
	userID     string
	httpClient *http.Client
}

func NewEmbyClient(baseURL, apiKey, userID string, timeout time.Duration) *EmbyClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EmbyClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		userID:     userID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type embyItem struct {
	ID             string            `json:"Id"`
	Name           string            `json:"Name"`
	ProductionYear int               `json:"ProductionYear"`
	Overview       string            `json:"Overview"`
	ProviderIDs    map[string]string `json:"ProviderIds"`
	ImageTags      map[string]string `json:"ImageTags"`
	LocationType   string            `json:"LocationType"`
	IsVirtualItem  bool              `json:"IsVirtualItem"`
}

type embyItemsResponse struct {
	Items            []embyItem `json:"Items"`
	TotalRecordCount int        `json:"TotalRecordCount"`
}

type embySystemInfo struct {
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
	ID         string `json:"Id"`
}

// GetItem fetches one item by id. Unknown ids yield ErrNotFound.
func (c *EmbyClient) GetItem(ctx context.Context, id string) (*Item, error) {
	q := url.Values{}
	q.Set("Ids", id)
	q.Set("Fields", itemFields)
	endpoint := "/Items"
	if c.userID != "" {
		endpoint = "/Users/" + url.PathEscape(c.userID) + "/Items"
	}

	var out embyItemsResponse
	if err := c.getJSON(ctx, endpoint+"?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("emby item %s: %w", id, err)
	}
	for _, it := range out.Items {
		if it.ID == id {
			return c.toItem(it), nil
		}
	}
	return nil, fmt.Errorf("emby item %s: %w", id, ErrNotFound)
}

// ServerName returns the name configured on the Emby server.
func (c *EmbyClient) ServerName(ctx context.Context) (string, error) {
	var info embySystemInfo
	if err := c.getJSON(ctx, "/System/Info", &info); err != nil {
		return "", fmt.Errorf("emby system info: %w", err)
	}
	return info.ServerName, nil
}

func (c *EmbyClient) toItem(it embyItem) *Item {
	out := &Item{
		ID:             it.ID,
		Name:           it.Name,
		ProductionYear: it.ProductionYear,
		Overview:       it.Overview,
		ProviderIDs:    it.ProviderIDs,
		IsVirtual:      it.IsVirtualItem || strings.EqualFold(it.LocationType, "Virtual"),
	}
	if tag, ok := it.ImageTags["Primary"]; ok && tag != "" {
		out.HasPrimaryImage = true
		out.PrimaryImagePath = c.ImageURL(it.ID, tag)
	}
	return out
}

// ImageURL is the public URL of an item's primary image.
func (c *EmbyClient) ImageURL(itemID, tag string) string {
	return fmt.Sprintf("%s/Items/%s/Images/Primary?tag=%s", c.baseURL, url.PathEscape(itemID), url.QueryEscape(tag))
}

// WebSocketURL returns the /embywebsocket endpoint for live events.
func (c *EmbyClient) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/embywebsocket"
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("deviceId", "embycord")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *EmbyClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("X-Emby-Client", "embycord")
	req.Header.Set("X-Emby-Device-Name", "embycord")
	req.Header.Set("X-Emby-Device-Id", "embycord")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
