// Package commands defines the cipherchat CLI and wires dependencies for subcommands.
//
// Commands
//
//   - register      Create an account and a local identity keypair
//   - login         Log in and locate the local keypair for the account
//   - logout        Forget the saved login (keys are kept)
//   - fingerprint   Print the identity fingerprint
//   - search        Find users by username
//   - chat new      Start an encrypted conversation with one or more users
//   - chat list     List your conversations
//   - chat open     Read and write a conversation interactively
//
// # Implementation
//
// The root command resolves configuration from flags, CIPHERCHAT_* variables
// and $home/config.yaml, then builds the dependency graph (key store, profile
// store, relay client, services) before any subcommand runs.
package commands
