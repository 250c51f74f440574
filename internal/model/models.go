package model

// Session holds the authenticated identity for one conversation view.
// It is immutable for the lifetime of the view; the core never persists
// it anywhere.
type Session struct {
	Username string `json:"username"`
	Token    string `json:"access_token"`
}
