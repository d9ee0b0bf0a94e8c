// Package sharepoint pulls a document library folder from SharePoint Online
// over Microsoft Graph into a local staging directory.
package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/54b3r/plantai-go/internal/config"
	"github.com/54b3r/plantai-go/internal/logging"
)

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	graphScope      = "https://graph.microsoft.com/.default"
)

// Config identifies the app registration and the document library.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// SiteHost is the SharePoint host, e.g. contoso.sharepoint.com.
	SiteHost string
	// SitePath is the server-relative site path, e.g. /sites/Plant.
	SitePath string
	// DriveName is the document library display name, e.g. Documents.
	DriveName string

	// GraphURL overrides the Graph v1.0 base URL.
	GraphURL string
	// TokenURL overrides the Entra ID token endpoint.
	TokenURL string
}

// ConfigFromEnv reads MS_* variables.
func ConfigFromEnv() Config {
	return Config{
		TenantID:     config.String("MS_TENANT_ID", ""),
		ClientID:     config.String("MS_CLIENT_ID", ""),
		ClientSecret: config.String("MS_CLIENT_SECRET", ""),
		SiteHost:     config.String("MS_SP_SITE_HOST", ""),
		SitePath:     config.String("MS_SP_SITE_PATH", ""),
		DriveName:    config.String("MS_SP_DRIVE_NAME", "Documents"),
		GraphURL:     config.String("MS_GRAPH_URL", ""),
		TokenURL:     config.String("MS_TOKEN_URL", ""),
	}
}

// Configured reports whether enough settings are present to attempt a fetch.
func (c Config) Configured() bool {
	return c.Validate() == nil
}

// Validate lists the missing required settings.
func (c Config) Validate() error {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"MS_TENANT_ID", c.TenantID},
		{"MS_CLIENT_ID", c.ClientID},
		{"MS_CLIENT_SECRET", c.ClientSecret},
		{"MS_SP_SITE_HOST", c.SiteHost},
		{"MS_SP_SITE_PATH", c.SitePath},
		{"MS_SP_DRIVE_NAME", c.DriveName},
	} {
		if f.v == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("sharepoint: missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Client talks to Graph with an app-only token. Tokens are fetched lazily
// and refreshed by the oauth2 transport.
type Client struct {
	http  *http.Client
	graph string
	cfg   Config
}

// New builds a client. ctx scopes token requests; it should outlive the
// client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://login.microsoftonline.com/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token"
	}
	graph := strings.TrimRight(cfg.GraphURL, "/")
	if graph == "" {
		graph = defaultGraphURL
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}
	return &Client{http: cc.Client(ctx), graph: graph, cfg: cfg}, nil
}

// Item is a file found under the requested folder.
type Item struct {
	ID   string
	Name string
	// Path is the slash-separated path relative to the requested folder.
	Path string
	Size int64

	driveID string
}

type driveItem struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Size   int64     `json:"size"`
	Folder *struct{} `json:"folder"`
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// Walk lazily yields every file below folder, depth first in listing order.
// Network calls are sequential. The first error ends the sequence.
func (c *Client) Walk(ctx context.Context, folder string) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		driveID, rootID, err := c.resolve(ctx, folder)
		if err != nil {
			yield(Item{}, err)
			return
		}
		c.walk(ctx, driveID, rootID, "", yield)
	}
}

// walk returns false when iteration must stop.
func (c *Client) walk(ctx context.Context, driveID, itemID, prefix string, yield func(Item, error) bool) bool {
	next := c.graph + "/drives/" + driveID + "/items/" + itemID + "/children"
	for next != "" {
		var p page[driveItem]
		if err := c.getJSON(ctx, next, &p); err != nil {
			yield(Item{}, err)
			return false
		}
		for _, it := range p.Value {
			rel := path.Join(prefix, it.Name)
			if it.Folder != nil {
				if !c.walk(ctx, driveID, it.ID, rel, yield) {
					return false
				}
				continue
			}
			if !yield(Item{ID: it.ID, Name: it.Name, Path: rel, Size: it.Size, driveID: driveID}, nil) {
				return false
			}
		}
		next = p.NextLink
	}
	return true
}

// resolve finds the drive and the folder item. Server-issued IDs are used
// verbatim in paths.
func (c *Client) resolve(ctx context.Context, folder string) (driveID, itemID string, err error) {
	var site struct {
		ID string `json:"id"`
	}
	if err := c.getJSON(ctx, c.graph+"/sites/"+url.PathEscape(c.cfg.SiteHost)+":"+escapePath(c.cfg.SitePath), &site); err != nil {
		return "", "", err
	}

	next := c.graph + "/sites/" + site.ID + "/drives"
	for next != "" && driveID == "" {
		var p page[struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}]
		if err := c.getJSON(ctx, next, &p); err != nil {
			return "", "", err
		}
		for _, d := range p.Value {
			if d.Name == c.cfg.DriveName {
				driveID = d.ID
				break
			}
		}
		next = p.NextLink
	}
	if driveID == "" {
		return "", "", fmt.Errorf("sharepoint: drive %q not found", c.cfg.DriveName)
	}

	folder = strings.Trim(folder, "/")
	target := c.graph + "/drives/" + driveID + "/root"
	if folder != "" {
		target += ":/" + escapePath(folder)
	}
	var root driveItem
	if err := c.getJSON(ctx, target, &root); err != nil {
		return "", "", err
	}
	if root.Folder == nil {
		return "", "", fmt.Errorf("sharepoint: %q is not a folder", folder)
	}
	return driveID, root.ID, nil
}

// Download streams the item's content into w.
func (c *Client) Download(ctx context.Context, it Item, w io.Writer) (int64, error) {
	u := c.graph + "/drives/" + it.driveID + "/items/" + it.ID + "/content"
	resp, err := c.get(ctx, u)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("sharepoint: download %s: %w", it.Path, err)
	}
	return n, nil
}

// Stage downloads every file below folder into dir, preserving sub-paths,
// and returns the number of files written.
func (c *Client) Stage(ctx context.Context, folder, dir string) (int, error) {
	log := logging.FromContext(ctx)
	n := 0
	for it, err := range c.Walk(ctx, folder) {
		if err != nil {
			return n, err
		}
		local := filepath.FromSlash(it.Path)
		if !filepath.IsLocal(local) {
			return n, fmt.Errorf("sharepoint: refusing unsafe item path %q", it.Path)
		}
		dest := filepath.Join(dir, local)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return n, fmt.Errorf("sharepoint: %w", err)
		}
		if err := c.stageFile(ctx, it, dest); err != nil {
			return n, err
		}
		n++
		log.Debug("sharepoint: staged file", slog.String("path", it.Path), slog.Int64("size", it.Size))
	}
	log.Info("sharepoint: folder staged", slog.String("folder", folder), slog.Int("files", n))
	return n, nil
}

func (c *Client) stageFile(ctx context.Context, it Item, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("sharepoint: %w", err)
	}
	if _, err := c.Download(ctx, it, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sharepoint: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	resp, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sharepoint: decode %s: %w", redact(u), err)
	}
	return nil
}

// get issues a GET and converts non-2xx responses into errors.
func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("sharepoint: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sharepoint: GET %s: %w", redact(u), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, graphError(u, resp)
	}
	return resp, nil
}

// ErrNotFound is returned when Graph answers 404, e.g. for a missing folder.
var ErrNotFound = errors.New("sharepoint: not found")

func graphError(u string, resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Code + ": " + body.Error.Message
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: GET %s: %s", ErrNotFound, redact(u), msg)
	}
	return fmt.Errorf("sharepoint: GET %s: %s: %s", redact(u), resp.Status, msg)
}

// escapePath escapes each segment of a slash-separated path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// redact drops the query string, which may carry skip tokens.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// URIPrefix returns the document URI prefix for files staged from folder:
// "sharepoint://Plant/Manuals/" for "/Plant/Manuals/", or "sharepoint://"
// for the drive root.
func URIPrefix(folder string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return "sharepoint://"
	}
	return "sharepoint://" + folder + "/"
}
