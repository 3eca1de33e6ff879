// Package identity registers accounts and logs this device in.
//
// Registration generates the device identity keypair, publishes the public
// half to the relay and keeps the keypair in the local key store. Login
// locates that keypair under the relay-assigned user id, migrating records
// stored under the email at registration time.
package identity
