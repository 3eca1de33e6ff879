// Package conversation keeps the selected conversation in sync with the relay.
//
// The Controller moves through Closed, Loading and Ready. Selecting a
// conversation unwraps its session secret with the local identity key,
// loads and decrypts the history, and subscribes to live messages. Live
// messages are accepted only for the selected conversation once it is Ready.
// A conversation whose secret cannot be recovered still opens, with every
// encrypted message shown as locked.
//
// Each selection is tagged with a generation number. A selection that is
// overtaken by a newer one abandons itself with ErrSuperseded after its
// next relay call, so a slow load can never overwrite a newer conversation.
package conversation
