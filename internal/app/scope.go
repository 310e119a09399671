// Package app wires the application together. A Scope is built once from
// the config at start-up and passed to whatever needs it; nothing in the
// other packages reaches for globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"car-assistant/internal/assistant"
	"car-assistant/internal/blobstore"
	"car-assistant/internal/chat"
	"car-assistant/internal/config"
	"car-assistant/internal/history"
	"car-assistant/internal/identity"
	"car-assistant/internal/sessions"
)

// Scope holds the long-lived services of one run
type Scope struct {
	Config    *config.Config
	Logger    *log.Logger
	Identity  *identity.Session
	Local     *history.Store
	Remote    blobstore.Store // nil when no mirror is configured
	Assistant *assistant.Client
	Sessions  *sessions.Manager
	Chat      *chat.Controller

	logFile *os.File
}

// New builds a scope. Log lines go to the log file under the data dir,
// and also to stderr when cfg.Verbose is set.
func New(ctx context.Context, cfg *config.Config, stderr io.Writer) (*Scope, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	var logOut io.Writer = logFile
	if cfg.Verbose && stderr != nil {
		logOut = io.MultiWriter(logFile, stderr)
	}
	logger := log.New(logOut, "", log.LstdFlags)

	s := &Scope{
		Config:  cfg,
		Logger:  logger,
		logFile: logFile,
	}

	s.Identity, err = identity.NewSession(cfg.UserID)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	s.Local = history.NewStore(cfg.HistoryPath())
	if err := s.Local.Ensure(); err != nil {
		s.Close()
		return nil, err
	}

	switch cfg.BlobBackend {
	case config.BackendGCS:
		gcs, err := blobstore.NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Remote = gcs
	case config.BackendDir:
		dir, err := blobstore.NewDir(cfg.BlobDir)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Remote = dir
	}

	s.Sessions = sessions.NewManager(s.Local, s.Remote, s.Identity, logger)
	s.Assistant = assistant.NewClient(cfg.APIURL, cfg.AskTimeout, cfg.RequestsPerMinute, logger)
	s.Chat = chat.NewController(s.Assistant, s.Sessions, cfg.AskTimeout, logger)

	logger.Printf("STARTED | data_dir=%s backend=%s signed_in=%t", cfg.DataDir, cfg.BlobBackend, cfg.UserID != "")
	return s, nil
}

// Close signs out and releases the remote store and the log file
func (s *Scope) Close() error {
	var errs []error
	if s.Identity != nil {
		s.Identity.SignOut()
	}
	if s.Remote != nil {
		if err := s.Remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close remote store: %w", err))
		}
		s.Remote = nil
	}
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
		}
		s.logFile = nil
	}
	return errors.Join(errs...)
}
