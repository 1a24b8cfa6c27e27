// package models defines the data model for the chat dashboard backend
package models

// Model defines the base interface for persisted models.
type Model interface {
	Key() string     // Key returns the identifier the model is stored under
	Validate() error // Validate checks if the model's data is valid and returns an error if not
}

// User is a platform user as returned by the user lookup endpoints.
type User struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Bio            string `json:"bio,omitempty"`
	Avatar         Avatar `json:"avatar,omitzero"`
	PrivateAccount bool   `json:"private_account,omitempty"`
	Verified       bool   `json:"verified,omitempty"`
	PostsCount     int    `json:"posts_count,omitempty"`
}

// Avatar holds a user's picture location.
type Avatar struct {
	URL string `json:"url,omitempty"`
}

// Profile is the authenticated user's profile envelope.
type Profile struct {
	Profile struct {
		User User `json:"user"`
	} `json:"profile"`
}

// Contact is an entry of the authenticated user's contact list.
//
// JID has the form "<user id>@<host>".
type Contact struct {
	JID      string `json:"user_jid"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// UserID returns the local part of the contact's JID.
func (c Contact) UserID() string {
	for i := 0; i < len(c.JID); i++ {
		if c.JID[i] == '@' {
			return c.JID[:i]
		}
	}
	return c.JID
}

// Recipient converts the contact into a campaign [Recipient].
func (c Contact) Recipient() Recipient {
	return Recipient{ID: c.UserID(), Name: c.Name}
}

// ContactList is the contacts endpoint envelope.
type ContactList struct {
	Contacts []Contact `json:"contacts"`
}
