// Package nextcloud implements provider.Provider against a Nextcloud (or
// any standards-compliant ownCloud) server over WebDAV. No WebDAV client
// library appears anywhere in the reference corpus this codebase was built
// from, and WebDAV's own wire format is XML-over-HTTP, so this speaks the
// protocol directly with net/http + encoding/xml rather than depending on
// an unofficial client.
package nextcloud

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cloudsync-oss/cloudsync/internal/provider"
)

// davNamespace is the WebDAV XML namespace used on every PROPFIND request
// and response element.
const davNamespace = "DAV:"

// Provider implements provider.Provider against a single Nextcloud account
// via its WebDAV endpoint (/remote.php/dav/files/{user}/).
type Provider struct {
	http     *http.Client
	baseURL  string // e.g. https://cloud.example.com/remote.php/dav/files/alice
	username string
	password string // app password, never the account login password
	logger   *slog.Logger
}

// New builds a Provider for the given WebDAV root URL and basic-auth
// credentials. Nextcloud's recommended auth mechanism for third-party
// clients is an app password scoped to WebDAV, not OAuth.
func New(httpClient *http.Client, baseURL, username, password string, logger *slog.Logger) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Provider{
		http:     httpClient,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		logger:   logger,
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() provider.Kind { return provider.KindNextcloud }

// IsAuthenticated implements provider.Provider.
func (p *Provider) IsAuthenticated() bool { return p.username != "" && p.password != "" }

// RefreshAuth implements provider.Provider. App passwords don't expire on
// their own schedule, so this validates the credential with a PROPFIND on
// the root rather than performing any token exchange.
func (p *Provider) RefreshAuth(ctx context.Context) error {
	_, err := p.propfind(ctx, "/", 0)
	if err != nil {
		return err
	}

	return nil
}

// davMultiStatus mirrors a WebDAV PROPFIND multistatus response body.
type davMultiStatus struct {
	XMLName   xml.Name     `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string       `xml:"href"`
	PropStat []davPropStat `xml:"propstat"`
}

type davPropStat struct {
	Status string  `xml:"status"`
	Prop   davProp `xml:"prop"`
}

type davProp struct {
	GetContentLength string `xml:"getcontentlength"`
	GetLastModified  string `xml:"getlastmodified"`
	GetETag          string `xml:"getetag"`
	ResourceType     struct {
		Collection *struct{} `xml:"collection"`
	} `xml:"resourcetype"`
	FileID string `xml:"fileid"` // Nextcloud OCS extension (oc: namespace, matched loosely by local name)
}

// propfindDepth controls how many levels PROPFIND descends: 0 for a single
// resource, 1 for a resource plus its immediate children.
func (p *Provider) propfind(ctx context.Context, davPath string, depth int) (*davMultiStatus, error) {
	const body = `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:prop>
    <d:getcontentlength/>
    <d:getlastmodified/>
    <d:getetag/>
    <d:resourcetype/>
    <oc:fileid/>
  </d:prop>
</d:propfind>`

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", p.url(davPath), strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("nextcloud: building propfind request: %w", err)
	}

	req.SetBasicAuth(p.username, p.password)
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Depth", strconv.Itoa(depth))

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, classify("propfind", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, classify("propfind", resp.StatusCode, readError(resp))
	}

	var ms davMultiStatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("nextcloud: decoding propfind response: %w", err)
	}

	return &ms, nil
}

func (p *Provider) url(davPath string) string {
	return p.baseURL + "/" + strings.TrimPrefix(davPath, "/")
}

// GetQuota implements provider.Provider. Nextcloud reports quota as a
// special property on the user's root collection rather than a dedicated
// endpoint; this reads getcontentlength-free standard WebDAV quota props.
func (p *Provider) GetQuota(ctx context.Context) (provider.Quota, error) {
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", p.url("/"), strings.NewReader(
		`<?xml version="1.0"?><d:propfind xmlns:d="DAV:"><d:prop>`+
			`<d:quota-available-bytes/><d:quota-used-bytes/></d:prop></d:propfind>`))
	if err != nil {
		return provider.Quota{}, fmt.Errorf("nextcloud: building quota request: %w", err)
	}

	req.SetBasicAuth(p.username, p.password)
	req.Header.Set("Depth", "0")

	resp, err := p.http.Do(req)
	if err != nil {
		return provider.Quota{}, classify("get_quota", 0, err)
	}
	defer resp.Body.Close()

	var body struct {
		Responses []struct {
			PropStat []struct {
				Prop struct {
					Available string `xml:"quota-available-bytes"`
					Used      string `xml:"quota-used-bytes"`
				} `xml:"prop"`
			} `xml:"propstat"`
		} `xml:"response"`
	}

	if err := xml.NewDecoder(resp.Body).Decode(&body); err != nil {
		return provider.Quota{}, fmt.Errorf("nextcloud: decoding quota response: %w", err)
	}

	if len(body.Responses) == 0 || len(body.Responses[0].PropStat) == 0 {
		return provider.Quota{}, nil
	}

	prop := body.Responses[0].PropStat[0].Prop
	used, _ := strconv.ParseInt(prop.Used, 10, 64)
	available, _ := strconv.ParseInt(prop.Available, 10, 64)

	total := int64(0)
	if available > 0 {
		total = used + available
	}

	return provider.Quota{Used: used, Total: total}, nil
}

// List implements provider.Provider; folderID is a server-relative path.
func (p *Provider) List(ctx context.Context, folderID string) ([]provider.File, error) {
	ms, err := p.propfind(ctx, folderID, 1)
	if err != nil {
		return nil, err
	}

	var files []provider.File

	for i := range ms.Responses {
		r := &ms.Responses[i]
		if stripHref(r.Href) == cleanPath(folderID) {
			continue // PROPFIND Depth:1 includes the collection itself
		}

		files = append(files, fromResponse(r))
	}

	return files, nil
}

// GetFile implements provider.Provider.
func (p *Provider) GetFile(ctx context.Context, id string) (provider.File, error) {
	ms, err := p.propfind(ctx, id, 0)
	if err != nil {
		return provider.File{}, err
	}

	if len(ms.Responses) == 0 {
		return provider.File{}, provider.NewError(provider.ErrKindNotFound, provider.KindNextcloud, "get_file", errors.New("no such resource"))
	}

	return fromResponse(&ms.Responses[0]), nil
}

// CreateFolder implements provider.Provider using WebDAV's MKCOL method.
func (p *Provider) CreateFolder(ctx context.Context, parentID, name string) (provider.File, error) {
	target := path.Join(parentID, name)

	req, err := http.NewRequestWithContext(ctx, "MKCOL", p.url(target), nil)
	if err != nil {
		return provider.File{}, fmt.Errorf("nextcloud: building mkcol request: %w", err)
	}

	req.SetBasicAuth(p.username, p.password)

	resp, err := p.http.Do(req)
	if err != nil {
		return provider.File{}, classify("create_folder", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return provider.File{}, classify("create_folder", resp.StatusCode, readError(resp))
	}

	return provider.File{ID: target, Name: name, Type: provider.FileTypeFolder}, nil
}

// UploadFile implements provider.Provider via a plain WebDAV PUT.
func (p *Provider) UploadFile(
	ctx context.Context, parentID, name string, r io.Reader, size int64, mtime time.Time,
) (provider.File, error) {
	target := path.Join(parentID, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.url(target), r)
	if err != nil {
		return provider.File{}, fmt.Errorf("nextcloud: building put request: %w", err)
	}

	req.SetBasicAuth(p.username, p.password)
	req.ContentLength = size

	if !mtime.IsZero() {
		req.Header.Set("X-OC-Mtime", strconv.FormatInt(mtime.Unix(), 10))
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return provider.File{}, classify("upload_file", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return provider.File{}, classify("upload_file", resp.StatusCode, readError(resp))
	}

	return p.GetFile(ctx, target)
}

// DownloadFile implements provider.Provider via a plain WebDAV GET.
func (p *Provider) DownloadFile(ctx context.Context, id string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(id), nil)
	if err != nil {
		return 0, fmt.Errorf("nextcloud: building get request: %w", err)
	}

	req.SetBasicAuth(p.username, p.password)

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, classify("download_file", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, classify("download_file", resp.StatusCode, readError(resp))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, classify("download_file", 0, err)
	}

	return n, nil
}

// MoveFile implements provider.Provider via WebDAV's MOVE method, which
// carries the full destination path in the Destination header and handles
// reparenting and renaming in the same call.
func (p *Provider) MoveFile(ctx context.Context, id, newParentID, newName string) (provider.File, error) {
	target := path.Join(newParentID, newName)

	req, err := http.NewRequestWithContext(ctx, "MOVE", p.url(id), nil)
	if err != nil {
		return provider.File{}, fmt.Errorf("nextcloud: building move request: %w", err)
	}

	req.SetBasicAuth(p.username, p.password)
	req.Header.Set("Destination", p.url(target))
	req.Header.Set("Overwrite", "F")

	resp, err := p.http.Do(req)
	if err != nil {
		return provider.File{}, classify("move_file", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return provider.File{}, classify("move_file", resp.StatusCode, readError(resp))
	}

	return p.GetFile(ctx, target)
}

// RenameFile implements provider.Provider as a move within the same folder.
func (p *Provider) RenameFile(ctx context.Context, id, newName string) (provider.File, error) {
	return p.MoveFile(ctx, id, path.Dir(id), newName)
}

// Delete implements provider.Provider via WebDAV DELETE. Nextcloud's server
// places the object in the user's trashbin automatically (its own
// retention policy, not a client flag), so this is also how "soft delete"
// is achieved here.
func (p *Provider) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.url(id), nil)
	if err != nil {
		return fmt.Errorf("nextcloud: building delete request: %w", err)
	}

	req.SetBasicAuth(p.username, p.password)

	resp, err := p.http.Do(req)
	if err != nil {
		return classify("delete", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return classify("delete", resp.StatusCode, readError(resp))
	}

	return nil
}

// PermanentDelete implements provider.Provider by deleting the trashbin
// entry directly, bypassing the retention Delete relies on.
func (p *Provider) PermanentDelete(ctx context.Context, id string) error {
	trashPath := strings.Replace(p.baseURL, "/files/", "/trashbin/", 1) + "/trash/" + path.Base(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, trashPath, nil)
	if err != nil {
		return fmt.Errorf("nextcloud: building permanent delete request: %w", err)
	}

	req.SetBasicAuth(p.username, p.password)

	resp, err := p.http.Do(req)
	if err != nil {
		return classify("permanent_delete", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return classify("permanent_delete", resp.StatusCode, readError(resp))
	}

	return nil
}

// GetChanges implements provider.Provider. WebDAV has no native change feed
// outside Nextcloud's non-standard activity API, so this falls back to a
// recursive PROPFIND compared by ETag, mirroring the S3 provider's fallback
// shape for backends without a cursor API. cursor encodes nothing usable
// across calls (WebDAV has no sync token this client relies on), so every
// call performs a fresh recursive listing; HasMore is always false.
func (p *Provider) GetChanges(ctx context.Context, cursor string) (provider.ChangePage, error) {
	ms, err := p.propfindRecursive(ctx, "/")
	if err != nil {
		return provider.ChangePage{}, err
	}

	files := make([]provider.File, 0, len(ms.Responses))
	for i := range ms.Responses {
		files = append(files, fromResponse(&ms.Responses[i]))
	}

	return provider.ChangePage{Files: files, Cursor: ""}, nil
}

// propfindRecursive issues Depth: infinity, which most Nextcloud
// deployments allow for moderate tree sizes; very large trees should
// configure polling at a narrower root via sync_paths instead.
func (p *Provider) propfindRecursive(ctx context.Context, davPath string) (*davMultiStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", p.url(davPath), strings.NewReader(
		`<?xml version="1.0"?><d:propfind xmlns:d="DAV:"><d:prop>`+
			`<d:getcontentlength/><d:getlastmodified/><d:getetag/><d:resourcetype/></d:prop></d:propfind>`))
	if err != nil {
		return nil, fmt.Errorf("nextcloud: building recursive propfind request: %w", err)
	}

	req.SetBasicAuth(p.username, p.password)
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Depth", "infinity")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, classify("get_changes", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, classify("get_changes", resp.StatusCode, readError(resp))
	}

	var ms davMultiStatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("nextcloud: decoding propfind response: %w", err)
	}

	return &ms, nil
}

func cleanPath(p string) string {
	return strings.TrimSuffix(strings.TrimPrefix(p, "/"), "/")
}

func stripHref(href string) string {
	return cleanPath(href)
}

func fromResponse(r *davResponse) provider.File {
	if len(r.PropStat) == 0 {
		return provider.File{ID: stripHref(r.Href)}
	}

	prop := r.PropStat[0].Prop

	fileType := provider.FileTypeFile
	if prop.ResourceType.Collection != nil {
		fileType = provider.FileTypeFolder
	}

	size, _ := strconv.ParseInt(prop.GetContentLength, 10, 64)
	modified, _ := time.Parse(time.RFC1123, prop.GetLastModified)
	id := stripHref(r.Href)

	return provider.File{
		ID:           id,
		Name:         path.Base(id),
		Type:         fileType,
		Size:         size,
		ContentHash:  strings.Trim(prop.GetETag, `"`),
		HashKind:     "etag",
		ModifiedTime: modified,
	}
}

func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if len(data) == 0 {
		return fmt.Errorf("nextcloud: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("nextcloud: HTTP %d: %s", resp.StatusCode, string(data))
}

// classify maps a WebDAV HTTP status to the provider-agnostic ErrorKind
// taxonomy.
func classify(op string, status int, err error) error {
	if err == nil {
		return nil
	}

	kind := provider.ErrKindFatal

	switch status {
	case http.StatusUnauthorized:
		kind = provider.ErrKindAuth
	case http.StatusForbidden:
		kind = provider.ErrKindPermission
	case http.StatusNotFound:
		kind = provider.ErrKindNotFound
	case http.StatusConflict, http.StatusPreconditionFailed, http.StatusLocked:
		kind = provider.ErrKindConflict
	case http.StatusInsufficientStorage:
		kind = provider.ErrKindQuota
	case http.StatusTooManyRequests:
		kind = provider.ErrKindRateLimit
	case 0:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = provider.ErrKindCancelled
		} else {
			kind = provider.ErrKindNetwork
		}
	default:
		if status >= 500 {
			kind = provider.ErrKindNetwork
		}
	}

	return provider.NewError(kind, provider.KindNextcloud, op, err)
}

var _ provider.Provider = (*Provider)(nil)
