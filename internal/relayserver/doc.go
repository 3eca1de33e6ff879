// Package relayserver is the in-memory relay that cipherchat clients talk to.
//
// The relay is an untrusted middleman. It stores accounts with their public
// identity keys, conversations with the session secret wrapped once per
// participant, and message ciphertext. It never sees plaintext, private keys
// or unwrapped session secrets.
//
// HTTP API (JSON, bearer token in the Authorization header unless noted)
//
//	POST /api/register {email, password, username, publicKey}   (no auth)
//	    Create an account. 409 if the email or username is taken.
//
//	POST /api/login {email, password} -> {user, token}            (no auth)
//	    Issue a bearer token.
//
//	POST /api/logout
//	    Revoke the presented token.
//
//	GET /api/me
//	    Return the authenticated user.
//
//	GET /api/users/search?q=
//	    Case-insensitive username substring match, at least 2 characters,
//	    excluding the caller, at most 10 results.
//
//	GET /api/chats
//	    The caller's conversations, most recent activity first.
//
//	POST /api/chats {userIds, name, encryptedKeys}
//	    Create a conversation. The caller is always a participant; duplicate
//	    ids are dropped; the name defaults to "Private Chat".
//
//	GET /api/chats/:id
//	    One conversation. 404 unless the caller is a participant.
//
//	GET /api/messages/:chatId
//	    History in ascending timestamp order with sender names.
//
//	GET /api/stream
//	    Websocket. Clients send subscribe, unsubscribe and publish frames; the
//	    relay timestamps and stores published messages and pushes them to
//	    every connection subscribed to the conversation.
//
// All state is held in memory and lost on process exit.
package relayserver
