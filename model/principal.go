package model

// Principal is the authenticated identity behind a request. It is resolved
// outside the broker and trusted as-is.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
