// Package dropbox implements provider.Provider against the Dropbox API v2.
// No Dropbox SDK exists anywhere in the reference corpus this codebase was
// built from, and the API itself is a flat JSON-RPC-style surface over
// plain HTTP, so this talks to it directly with net/http + encoding/json
// rather than depending on an unofficial third-party client.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudsync-oss/cloudsync/internal/provider"
)

const (
	apiBase     = "https://api.dropboxapi.com/2"
	contentBase = "https://content.dropboxapi.com/2"
)

// Provider implements provider.Provider against a single Dropbox account.
type Provider struct {
	http        *http.Client
	accessToken string
	logger      *slog.Logger
}

// New builds a Provider from a bearer access token. Dropbox's long-lived
// refresh tokens are exchanged for a fresh access token by the caller
// (internal/provider is backend-agnostic and has no OAuth flow of its own).
func New(httpClient *http.Client, accessToken string, logger *slog.Logger) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Provider{http: httpClient, accessToken: accessToken, logger: logger}
}

// Name implements provider.Provider.
func (p *Provider) Name() provider.Kind { return provider.KindDropbox }

// IsAuthenticated implements provider.Provider.
func (p *Provider) IsAuthenticated() bool { return p.accessToken != "" }

// RefreshAuth implements provider.Provider. Dropbox access tokens in the
// default (non-short-lived) app configuration don't expire, so this simply
// validates the current token against a cheap endpoint.
func (p *Provider) RefreshAuth(ctx context.Context) error {
	var who struct {
		AccountID string `json:"account_id"`
	}

	if err := p.call(ctx, apiBase+"/users/get_current_account", nil, &who); err != nil {
		return err
	}

	return nil
}

type spaceUsageResponse struct {
	Used       int64 `json:"used"`
	Allocation struct {
		Allocated int64 `json:"allocated"`
	} `json:"allocation"`
}

// GetQuota implements provider.Provider.
func (p *Provider) GetQuota(ctx context.Context) (provider.Quota, error) {
	var usage spaceUsageResponse

	if err := p.call(ctx, apiBase+"/users/get_space_usage", nil, &usage); err != nil {
		return provider.Quota{}, err
	}

	return provider.Quota{Used: usage.Used, Total: usage.Allocation.Allocated}, nil
}

// metadataEntry mirrors the Dropbox FileMetadata/FolderMetadata/
// DeletedMetadata union, discriminated by the ".tag" field.
type metadataEntry struct {
	Tag            string `json:".tag"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	PathLower      string `json:"path_lower"`
	Size           int64  `json:"size"`
	ContentHash    string `json:"content_hash"`
	ServerModified string `json:"server_modified"`
}

func (e *metadataEntry) toFile() provider.File {
	modified, _ := time.Parse(time.RFC3339, e.ServerModified)

	fileType := provider.FileTypeFile
	if e.Tag == "folder" {
		fileType = provider.FileTypeFolder
	}

	return provider.File{
		ID:           e.ID,
		Name:         e.Name,
		Path:         e.PathLower,
		Type:         fileType,
		Size:         e.Size,
		ContentHash:  e.ContentHash,
		HashKind:     "dropbox-content-hash",
		ModifiedTime: modified,
		Deleted:      e.Tag == "deleted",
	}
}

// List implements provider.Provider. folderID is a Dropbox lowercase path
// (Dropbox addresses most operations by path, not opaque ID, outside of
// list_folder/continue cursors).
func (p *Provider) List(ctx context.Context, folderID string) ([]provider.File, error) {
	var page struct {
		Entries []metadataEntry `json:"entries"`
		Cursor  string          `json:"cursor"`
		HasMore bool            `json:"has_more"`
	}

	req := map[string]any{"path": folderID, "include_deleted": false}
	if err := p.call(ctx, apiBase+"/files/list_folder", req, &page); err != nil {
		return nil, err
	}

	files := make([]provider.File, 0, len(page.Entries))
	for i := range page.Entries {
		files = append(files, page.Entries[i].toFile())
	}

	for page.HasMore {
		var next struct {
			Entries []metadataEntry `json:"entries"`
			Cursor  string          `json:"cursor"`
			HasMore bool            `json:"has_more"`
		}

		if err := p.call(ctx, apiBase+"/files/list_folder/continue", map[string]any{"cursor": page.Cursor}, &next); err != nil {
			return nil, err
		}

		for i := range next.Entries {
			files = append(files, next.Entries[i].toFile())
		}

		page.HasMore = next.HasMore
		page.Cursor = next.Cursor
	}

	return files, nil
}

// GetFile implements provider.Provider.
func (p *Provider) GetFile(ctx context.Context, id string) (provider.File, error) {
	var entry metadataEntry

	if err := p.call(ctx, apiBase+"/files/get_metadata", map[string]any{"path": id}, &entry); err != nil {
		return provider.File{}, err
	}

	return entry.toFile(), nil
}

// CreateFolder implements provider.Provider.
func (p *Provider) CreateFolder(ctx context.Context, parentID, name string) (provider.File, error) {
	var result struct {
		Metadata metadataEntry `json:"metadata"`
	}

	path := joinPath(parentID, name)
	if err := p.call(ctx, apiBase+"/files/create_folder_v2", map[string]any{"path": path}, &result); err != nil {
		return provider.File{}, err
	}

	return result.Metadata.toFile(), nil
}

// uploadArg is the Dropbox-Api-Arg header payload for a content upload.
type uploadArg struct {
	Path           string `json:"path"`
	Mode           string `json:"mode"`
	ClientModified string `json:"client_modified,omitempty"`
	Mute           bool   `json:"mute"`
}

// UploadFile implements provider.Provider. Dropbox distinguishes simple
// uploads (<=150MB) from upload sessions for larger files; this
// implementation covers the simple-upload path, matching the sizes the
// sync engine's chunked-upload threshold routes here.
func (p *Provider) UploadFile(
	ctx context.Context, parentID, name string, r io.Reader, size int64, mtime time.Time,
) (provider.File, error) {
	path := joinPath(parentID, name)

	arg := uploadArg{Path: path, Mode: "overwrite", Mute: true}
	if !mtime.IsZero() {
		arg.ClientModified = mtime.UTC().Format("2006-01-02T15:04:05Z")
	}

	argJSON, err := json.Marshal(arg)
	if err != nil {
		return provider.File{}, fmt.Errorf("dropbox: encoding upload arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, contentBase+"/files/upload", r)
	if err != nil {
		return provider.File{}, fmt.Errorf("dropbox: building upload request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(argJSON))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	var entry metadataEntry
	if err := p.do(req, &entry); err != nil {
		return provider.File{}, err
	}

	return entry.toFile(), nil
}

// DownloadFile implements provider.Provider.
func (p *Provider) DownloadFile(ctx context.Context, id string, w io.Writer) (int64, error) {
	argJSON, err := json.Marshal(map[string]string{"path": id})
	if err != nil {
		return 0, fmt.Errorf("dropbox: encoding download arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, contentBase+"/files/download", nil)
	if err != nil {
		return 0, fmt.Errorf("dropbox: building download request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(argJSON))

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, classify("download_file", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, classify("download_file", resp.StatusCode, readAPIError(resp))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, classify("download_file", 0, err)
	}

	return n, nil
}

// MoveFile implements provider.Provider via Dropbox's move_v2, which
// handles both reparenting and renaming in one call since Dropbox
// addresses objects by path rather than separate parent/name fields.
func (p *Provider) MoveFile(ctx context.Context, id, newParentID, newName string) (provider.File, error) {
	var result struct {
		Metadata metadataEntry `json:"metadata"`
	}

	req := map[string]any{"from_path": id, "to_path": joinPath(newParentID, newName)}
	if err := p.call(ctx, apiBase+"/files/move_v2", req, &result); err != nil {
		return provider.File{}, err
	}

	return result.Metadata.toFile(), nil
}

// RenameFile implements provider.Provider as a move within the same folder.
func (p *Provider) RenameFile(ctx context.Context, id, newName string) (provider.File, error) {
	parent := id
	if idx := lastSlash(id); idx >= 0 {
		parent = id[:idx]
	}

	return p.MoveFile(ctx, id, parent, newName)
}

// Delete implements provider.Provider. Dropbox has no separate trash API;
// delete_v2 is Dropbox's only removal call, and deleted files remain
// recoverable for 30 days via Dropbox's own version history regardless.
func (p *Provider) Delete(ctx context.Context, id string) error {
	return p.call(ctx, apiBase+"/files/delete_v2", map[string]any{"path": id}, nil)
}

// PermanentDelete implements provider.Provider.
func (p *Provider) PermanentDelete(ctx context.Context, id string) error {
	return p.call(ctx, apiBase+"/files/permanently_delete", map[string]any{"path": id}, nil)
}

// GetChanges implements provider.Provider using Dropbox's list_folder
// cursor (the same cursor family List uses for pagination doubles as the
// long-lived change feed token).
func (p *Provider) GetChanges(ctx context.Context, cursor string) (provider.ChangePage, error) {
	if cursor == "" {
		var start struct {
			Cursor string `json:"cursor"`
		}

		req := map[string]any{"path": "", "recursive": true, "include_deleted": true}
		if err := p.call(ctx, apiBase+"/files/list_folder/get_latest_cursor", req, &start); err != nil {
			return provider.ChangePage{}, err
		}

		return provider.ChangePage{Cursor: start.Cursor}, nil
	}

	var page struct {
		Entries []metadataEntry `json:"entries"`
		Cursor  string          `json:"cursor"`
		HasMore bool            `json:"has_more"`
	}

	if err := p.call(ctx, apiBase+"/files/list_folder/continue", map[string]any{"cursor": cursor}, &page); err != nil {
		if isResetCursor(err) {
			return provider.ChangePage{Reset: true}, nil
		}

		return provider.ChangePage{}, err
	}

	files := make([]provider.File, 0, len(page.Entries))
	for i := range page.Entries {
		files = append(files, page.Entries[i].toFile())
	}

	return provider.ChangePage{Files: files, Cursor: page.Cursor, HasMore: page.HasMore}, nil
}

func joinPath(parentID, name string) string {
	if parentID == "" || parentID == "/" {
		return "/" + name
	}

	return parentID + "/" + name
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}

	return -1
}

// apiError mirrors the {"error_summary": "..."} envelope Dropbox returns on
// non-2xx responses.
type apiError struct {
	Summary string `json:"error_summary"`
}

// call issues a JSON-RPC-style POST against the Dropbox API and decodes the
// response into out (nil to discard the body).
func (p *Provider) call(ctx context.Context, url string, body any, out any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("dropbox: encoding request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("dropbox: building request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/json")

	return p.do(req, out)
}

func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.http.Do(req)
	if err != nil {
		return classify(req.URL.Path, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classify(req.URL.Path, resp.StatusCode, readAPIError(resp))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("dropbox: decoding response: %w", err)
	}

	return nil
}

func readAPIError(resp *http.Response) error {
	var apiErr apiError

	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Summary == "" {
		return fmt.Errorf("dropbox: HTTP %d", resp.StatusCode)
	}

	return errors.New(apiErr.Summary)
}

func isResetCursor(err error) bool {
	var perr *provider.Error

	return errors.As(err, &perr) && perr.Kind == provider.ErrKindNotFound
}

// classify maps a Dropbox HTTP status + error summary to the
// provider-agnostic ErrorKind taxonomy.
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
	case http.StatusNotFound, http.StatusConflict:
		// Dropbox reports both "not found" and "invalid cursor" as 409 with
		// a descriptive error_summary, so treat both as NotFound and let
		// GetChanges' isResetCursor distinguish via the cursor-reset path.
		kind = provider.ErrKindNotFound
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

	return provider.NewError(kind, provider.KindDropbox, op, err)
}

var _ provider.Provider = (*Provider)(nil)
