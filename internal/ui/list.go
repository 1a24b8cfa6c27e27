package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/kcx/internal/models"
)

var _ list.Item = contactItem{}

// contactItem wraps [models.Contact] to implement [list.Item].
type contactItem struct {
	contact  models.Contact
	selected bool
}

func (i contactItem) FilterValue() string { return i.contact.Name + " " + i.contact.Username }

func (i contactItem) Title() string {
	mark := "[ ]"
	if i.selected {
		mark = styles.check.Render("[x]")
	}
	name := i.contact.Name
	if name == "" {
		name = i.contact.UserID()
	}
	return fmt.Sprintf("%s %s", mark, name)
}

func (i contactItem) Description() string {
	if i.contact.Username != "" {
		return fmt.Sprintf("@%s • %s", i.contact.Username, i.contact.UserID())
	}
	return i.contact.UserID()
}
