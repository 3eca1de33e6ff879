// Package servicetest provides an in-memory relay for service tests.
//
// A Relay holds accounts, conversations and messages. Each Client is one
// logged-in device implementing both domain.ChatAPI and domain.MessageStream;
// published messages are delivered synchronously to every subscribed client,
// which keeps controller tests deterministic.
package servicetest
