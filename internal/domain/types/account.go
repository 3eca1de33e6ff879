package types

import "time"

// User is the public view of an account returned by user search.
type User struct {
	ID        UserID      `json:"_id"`
	Username  string      `json:"username"`
	Email     string      `json:"email,omitempty"`
	PublicKey PortableKey `json:"publicKey,omitempty"`
}

// Registration is submitted to the relay when an account is created.
type Registration struct {
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	Username  string      `json:"username"`
	PublicKey PortableKey `json:"publicKey"`
}

// Credentials are exchanged for a bearer token at login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is the authenticated identity the relay hands back at login.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Profile records the last successful login on this device.
type Profile struct {
	RelayURL string    `json:"relay_url"`
	UserID   UserID    `json:"user_id"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Token    string    `json:"token"`
	SavedAt  time.Time `json:"saved_at"`
}

// LoginResult is a successful login. Warning is non-nil when the login
// succeeded but this device holds no identity keys for the account; it wraps
// ErrNoLocalKey.
type LoginResult struct {
	Session Session
	// KeysFoundUnder is the identifier the local keypair was found under, which
	// differs from the user id when a legacy record was migrated.
	KeysFoundUnder string
	Warning        error
}
