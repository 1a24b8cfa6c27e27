// Package tasks runs bulk dispatch campaigns with real-time progress reporting.
//
// # State Machine
//
// A campaign moves NotStarted → Running → Completed, or is Cancelled. [Dispatcher] exposes four operations:
//
//  1. [Dispatcher.Start] : validates the request, sends message 1 synchronously and stores the campaign
//  2. [Dispatcher.Advance] : sends the next message once NextSendAt has passed, otherwise does nothing
//  3. [Dispatcher.Status] : pure read of the current [models.Snapshot]
//  4. [Dispatcher.Cancel] : discards the campaign and reports how far it got
//
// Sends are ordered recipient-major: every message for recipient 0, then recipient 1 and so on.
// A failed send does not advance progress, so delivery is at-least-once. Two consecutive
// authentication failures cancel the campaign.
//
// # Concurrency
//
// Operations on one session serialize on a per-session mutex. Across processes Advance claims the due
// slot in the [CampaignStore] before calling the platform, and a driver that loses the claim only
// reports progress. The claim lapses after [SendLease] if its holder never saves.
//
// # Pacing
//
// No goroutine owns a campaign. [Driver] is the client-side loop that calls Advance until completion,
// emitting [ProgressUpdate] values on a non-blocking channel.
package tasks
