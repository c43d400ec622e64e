package graph

import (
	"time"

	"github.com/cloudsync-oss/cloudsync/internal/driveid"
)

// User is the authenticated account's profile.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// Drive describes a drive available to the authenticated account (the
// user's own OneDrive, or a SharePoint document library).
type Drive struct {
	ID         driveid.ID
	Name       string
	DriveType  string // "personal", "business", or "documentLibrary"
	OwnerName  string
	OwnerEmail string
	QuotaUsed  int64
	QuotaTotal int64
}

// Site is a SharePoint site returned by site search, used to discover
// document library drives for SharePoint sync.
type Site struct {
	ID          string
	DisplayName string
	Name        string
	WebURL      string
}

// Organization is the authenticated account's tenant organization name,
// used to build a friendly default sync directory name for business drives.
type Organization struct {
	DisplayName string
}

// ChildCountUnknown indicates the child count was not present in the API response.
const ChildCountUnknown = -1

// Item represents a OneDrive drive item (file, folder, or package).
// Fields are normalized from the Graph API response — callers never see raw API data.
type Item struct {
	ID            string
	Name          string
	DriveID       string // normalized: lowercase (Graph API casing is inconsistent)
	ParentID      string
	ParentDriveID string // drive containing parent (for cross-drive references)
	Size          int64
	ETag          string
	CTag          string
	IsFolder      bool
	IsDeleted     bool
	IsPackage     bool // OneNote packages — sync should skip these
	MimeType      string
	QuickXorHash  string // base64-encoded
	SHA1Hash      string // hex (Personal accounts only)
	SHA256Hash    string // hex (Business accounts, sometimes)
	CreatedAt     time.Time
	ModifiedAt    time.Time
	ChildCount    int    // ChildCountUnknown if not present
	DownloadURL   string // pre-authenticated, ephemeral; NEVER log (architecture.md §9.2)
}

// DeltaPage is one page of results from the delta endpoint. DeltaLink is set
// only on the final page of a delta cycle; NextLink is set on every page but
// the last.
type DeltaPage struct {
	Items     []Item
	NextLink  string
	DeltaLink string
}

// UploadSession is a resumable upload session returned by
// CreateUploadSession. UploadURL is pre-authenticated and must not be
// logged.
type UploadSession struct {
	UploadURL  string
	Expiration time.Time
}
