package identity

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cipherchat/internal/crypto"
	"cipherchat/internal/domain"
)

const (
	// minPasswordLength defines the minimum number of characters required for
	// an account password.
	minPasswordLength = 8
)

var (
	// ErrWeakPassword is returned when the password fails the length policy.
	ErrWeakPassword = errors.Errorf(
		"password is too short (must be at least %d characters)", minPasswordLength)
	// ErrInvalidEmail is returned for an unparseable email address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidUsername is returned for an empty username.
	ErrInvalidUsername = errors.New("username is required")
	// ErrNotLoggedIn is returned when no saved profile exists.
	ErrNotLoggedIn = errors.New("not logged in")
)

// Service manages the account lifecycle of this device.
type Service struct {
	keys     domain.KeyStore
	profiles domain.ProfileStore
	api      domain.ChatAPI
	relayURL string
	log      zerolog.Logger
}

// New returns an identity service.
func New(
	keys domain.KeyStore,
	profiles domain.ProfileStore,
	api domain.ChatAPI,
	relayURL string,
	log zerolog.Logger,
) *Service {
	return &Service{
		keys:     keys,
		profiles: profiles,
		api:      api,
		relayURL: relayURL,
		log:      log.With().Str("component", "identity").Logger(),
	}
}

// Register creates an account and returns it with the fingerprint of the
// published public key.
//
// The keypair is stored under the email because the relay has not assigned a
// user id yet; the first login migrates it.
func (s *Service) Register(
	ctx context.Context,
	email, password, username string,
) (domain.User, domain.Fingerprint, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, "", ErrInvalidEmail
	}
	if username == "" {
		return domain.User{}, "", ErrInvalidUsername
	}
	if len(password) < minPasswordLength {
		return domain.User{}, "", ErrWeakPassword
	}

	kp, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		return domain.User{}, "", err
	}
	pub, err := crypto.ExportPublicKey(kp.Public)
	if err != nil {
		return domain.User{}, "", err
	}
	fp, err := crypto.Fingerprint(pub)
	if err != nil {
		return domain.User{}, "", err
	}

	// Stored before the public half is published.
	if err := s.keys.PutKeyPair(email, kp); err != nil {
		return domain.User{}, "", errors.WithMessage(err, "store identity keys")
	}

	user, err := s.api.Register(ctx, domain.Registration{
		Email:     email,
		Password:  password,
		Username:  username,
		PublicKey: pub,
	})
	if err != nil {
		return domain.User{}, "", errors.WithMessage(err, "register")
	}
	s.log.Info().
		Str("user_id", user.ID.String()).
		Str("fingerprint", fp.String()).
		Msg("account registered")
	return user, fp, nil
}

// Login authenticates against the relay, saves the profile and locates the
// local identity keys. Missing keys do not fail the login; they are reported
// in LoginResult.Warning.
func (s *Service) Login(ctx context.Context, email, password string) (domain.LoginResult, error) {
	email = strings.TrimSpace(email)
	sess, err := s.api.Login(ctx, domain.Credentials{Email: email, Password: password})
	if err != nil {
		return domain.LoginResult{}, errors.WithMessage(err, "login")
	}
	s.api.SetToken(sess.Token)

	if err := s.profiles.SaveProfile(domain.Profile{
		RelayURL: s.relayURL,
		UserID:   sess.User.ID,
		Email:    email,
		Username: sess.User.Username,
		Token:    sess.Token,
		SavedAt:  time.Now().UTC(),
	}); err != nil {
		return domain.LoginResult{}, errors.WithMessage(err, "save profile")
	}

	res := domain.LoginResult{Session: sess}
	kp, foundUnder, err := s.keys.Lookup(sess.User.ID.String(), email)
	switch {
	case err != nil:
		res.Warning = err
	case kp == nil:
		res.Warning = errors.Wrapf(domain.ErrNoLocalKey,
			"encrypted chats for %s cannot be opened here", sess.User.Username)
	default:
		res.KeysFoundUnder = foundUnder
		if foundUnder != sess.User.ID.String() {
			s.log.Info().
				Str("user_id", sess.User.ID.String()).
				Msg("migrated identity keys from email to user id")
		}
	}
	if res.Warning != nil {
		s.log.Warn().Err(res.Warning).Str("user_id", sess.User.ID.String()).Msg("logged in without local keys")
	}
	return res, nil
}

// Resume restores the saved login, installing its token on the relay client.
func (s *Service) Resume() (domain.Profile, error) {
	profile, ok, err := s.profiles.LoadProfile()
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok || profile.Token == "" {
		return domain.Profile{}, ErrNotLoggedIn
	}
	s.api.SetToken(profile.Token)
	return profile, nil
}

// Logout revokes the token on the relay and forgets the saved profile. Local
// identity keys are kept.
func (s *Service) Logout(ctx context.Context) error {
	if _, err := s.Resume(); err != nil {
		if errors.Is(err, ErrNotLoggedIn) {
			return nil
		}
		return err
	}
	if err := s.api.Logout(ctx); err != nil {
		s.log.Warn().Err(err).Msg("relay logout failed")
	}
	s.api.SetToken("")
	return s.profiles.ClearProfile()
}

// Fingerprint returns the fingerprint of the local public key stored for id.
func (s *Service) Fingerprint(id domain.UserID) (domain.Fingerprint, error) {
	kp, ok, err := s.keys.GetKeyPair(id.String())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Wrapf(domain.ErrNoLocalKey, "user %s", id)
	}
	pub, err := crypto.ExportPublicKey(kp.Public)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(pub)
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
