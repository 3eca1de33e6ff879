package servicetest

import (
	"context"
	"sync"

	"cipherchat/internal/crypto"
	"cipherchat/internal/domain"
)

var (
	keysMu sync.Mutex
	keys   []*crypto.KeyPair
)

// KeyPairs returns n identity keypairs, generating them once per process.
func KeyPairs(n int) ([]*crypto.KeyPair, error) {
	keysMu.Lock()
	defer keysMu.Unlock()
	for len(keys) < n {
		kp, err := crypto.GenerateIdentityKeyPair()
		if err != nil {
			return nil, err
		}
		keys = append(keys, kp)
	}
	return keys[:n], nil
}

// Member is an enrolled account with a logged-in client.
type Member struct {
	User   domain.User
	Keys   *crypto.KeyPair
	Client *Client
}

// Enroll adds an account publishing kp's public key and logs a new client in
// as it. A nil kp enrolls a legacy account without a public key.
func (r *Relay) Enroll(ctx context.Context, email, username string, kp *crypto.KeyPair) (Member, error) {
	var pub domain.PortableKey
	if kp != nil {
		var err error
		if pub, err = crypto.ExportPublicKey(kp.Public); err != nil {
			return Member{}, err
		}
	}
	user := r.AddUser(email, username, pub)

	c := r.Client()
	sess, err := c.Login(ctx, domain.Credentials{Email: email, Password: "password"})
	if err != nil {
		return Member{}, err
	}
	c.SetToken(sess.Token)
	return Member{User: user, Keys: kp, Client: c}, nil
}
