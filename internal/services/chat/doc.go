// Package chat finds users and creates conversations.
//
// Creating a conversation generates one session secret, wraps it for every
// participant including the creator, and hands the wrapped copies to the
// relay with the creation request. The relay never sees the secret itself.
package chat
