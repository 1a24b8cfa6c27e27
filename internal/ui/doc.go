// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI provides a multi-view workflow for bulk dispatch:
//  1. [ContactsView] : Pick recipients from the contact list
//  2. [ComposeView] : Write the message ({name} is replaced per recipient)
//  3. [ConfirmView] : Confirm totals and pacing before the first send
//  4. [MonitorView] : Drive the campaign and show progress
//  5. [ResultView] : Display the final snapshot or the error that stopped it
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// The monitor is the pacing client: it schedules a tick for max(poll interval, wait) and calls Advance on each one,
// so the dispatcher itself never sleeps.
//
// Keyboard navigation uses single-key bindings (space, enter, esc, y/n, p, c, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
