// Package relay is the client side of the cipherchat relay.
//
// HTTP implements domain.ChatAPI over the relay's JSON REST surface: account
// registration and login, user search, conversation listing and creation,
// and message history. Stream implements domain.MessageStream over a
// websocket: subscribe and unsubscribe frames select which conversations the
// relay pushes, publish frames send a message.
//
// All requests accept a context for cancellation and deadlines and carry the
// bearer token when one is set. Non-2xx statuses are returned as *StatusError,
// which unwraps to ErrUnauthorized, ErrNotFound or ErrConflict where the
// status has a meaning callers act on.
package relay
