package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/kcx/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgContactsFetched MsgKind = iota
	MsgCampaignStarted
	MsgAdvanced
	MsgCancelled
	MsgTick
)

type contactsData struct {
	contacts []models.Contact
	err      error
}

type campaignData struct {
	snapshot models.Snapshot
	err      error
}

// contactsFetchedMsg is the constructor for [MsgContactsFetched]
func contactsFetchedMsg(contacts []models.Contact, err error) Msg {
	return Msg{kind: MsgContactsFetched, data: contactsData{contacts, err}}
}

// campaignStartedMsg is the constructor for [MsgCampaignStarted]
func campaignStartedMsg(snap models.Snapshot, err error) Msg {
	return Msg{kind: MsgCampaignStarted, data: campaignData{snap, err}}
}

// advancedMsg is the constructor for [MsgAdvanced]
func advancedMsg(snap models.Snapshot, err error) Msg {
	return Msg{kind: MsgAdvanced, data: campaignData{snap, err}}
}

// cancelledMsg is the constructor for [MsgCancelled]
func cancelledMsg(snap models.Snapshot, err error) Msg {
	return Msg{kind: MsgCancelled, data: campaignData{snap, err}}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg() Msg {
	return Msg{kind: MsgTick}
}
