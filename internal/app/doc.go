// Package app wires application dependencies for the CLI.
//
// It resolves Config from flags, CIPHERCHAT_* environment variables and an
// optional $home/config.yaml, builds the logger, and constructs the key and
// profile stores, the relay client and the high-level services, exposing them
// via the Wire struct for commands to use.
package app
