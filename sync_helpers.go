package main

import (
	"fmt"
	"log/slog"

	"github.com/cloudsync-oss/cloudsync/internal/config"
	"github.com/cloudsync-oss/cloudsync/internal/driveops"
	"github.com/cloudsync-oss/cloudsync/internal/provider/onedrive"
	"github.com/cloudsync-oss/cloudsync/internal/sync"
)

// newSyncEngine creates a sync.Engine from a driveops.Session and resolved
// config. Validates syncDir and statePath, wraps the session's Graph client
// in the OneDrive provider.Provider adapter, and builds the EngineConfig.
func newSyncEngine(session *driveops.Session, resolved *config.ResolvedDrive, logger *slog.Logger) (*sync.Engine, error) {
	syncDir := resolved.SyncDir
	if syncDir == "" {
		return nil, fmt.Errorf("sync_dir not configured — set it in the config file or add a drive with 'onedrive-go drive add'")
	}

	dbPath := resolved.StatePath()
	if dbPath == "" {
		return nil, fmt.Errorf("cannot determine state DB path for drive %q", resolved.CanonicalID)
	}

	client := onedrive.New(session.Transfer, session.DriveID, logger)

	ecfg := &sync.EngineConfig{
		DBPath:   dbPath,
		SyncRoot: syncDir,
		DriveID:  session.DriveID,
		Client:   client,
		Logger:   logger,
	}

	return sync.NewEngine(ecfg)
}
