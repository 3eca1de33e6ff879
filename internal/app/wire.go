package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cipherchat/internal/domain"
	"cipherchat/internal/relay"
	"cipherchat/internal/services/chat"
	"cipherchat/internal/services/conversation"
	"cipherchat/internal/services/identity"
	"cipherchat/internal/store"
)

const keysDir = "keys"

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Config   Config
	Log      zerolog.Logger
	Keys     *store.KeyStore
	Profiles *store.ProfileFileStore
	API      *relay.HTTP
	Identity *identity.Service
	Chats    *chat.Service
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config, log zerolog.Logger) (*Wire, error) {
	if cfg.Passphrase == "" {
		return nil, ErrNoPassphrase
	}
	if err := os.MkdirAll(filepath.Join(cfg.Home, keysDir), 0o700); err != nil {
		return nil, errors.Wrapf(domain.ErrStoreUnavailable, "create %s: %v", cfg.Home, err)
	}

	keys, err := store.OpenKeyStore(filepath.Join(cfg.Home, keysDir), cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	profiles := store.NewProfileFileStore(cfg.Home, cfg.Passphrase)

	// Ensure an HTTP client is available for outbound calls
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	api := relay.NewHTTP(cfg.RelayURL)
	api.HTTP = httpClient

	return &Wire{
		Config:   cfg,
		Log:      log,
		Keys:     keys,
		Profiles: profiles,
		API:      api,
		Identity: identity.New(keys, profiles, api, cfg.RelayURL, log),
		Chats:    chat.New(keys, api, log),
	}, nil
}

// CurrentUser restores the saved login and returns the logged-in user.
func (w *Wire) CurrentUser() (domain.User, error) {
	profile, err := w.Identity.Resume()
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: profile.UserID, Username: profile.Username, Email: profile.Email}, nil
}

// OpenStream connects the live message stream with the saved token and
// returns a conversation controller driven by it. Close the stream when done.
func (w *Wire) OpenStream(
	ctx context.Context,
	me domain.User,
	listener domain.ConversationListener,
) (*conversation.Controller, *relay.Stream, error) {
	stream, err := relay.Dial(ctx, w.Config.RelayURL, w.API.Token(), w.Log)
	if err != nil {
		return nil, nil, err
	}
	ctl := conversation.New(me, w.Keys, w.API, stream, listener, w.Log)
	return ctl, stream, nil
}
