package session

// Balance is one currency balance of the wallet.
type Balance struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Frozen    string `json:"frozen,omitempty"`
}

// UserProfile is the cached, refreshable copy of the user's profile.
// It is never used to decide whether a request is authorized.
type UserProfile struct {
	UserID     string    `json:"userId"`
	Nickname   string    `json:"nickname"`
	Avatar     string    `json:"avatar,omitempty"`
	Email      string    `json:"email,omitempty"`
	InviteCode string    `json:"inviteCode,omitempty"`
	InviteLink string    `json:"inviteLink,omitempty"`
	Points     int64     `json:"points"`
	Balances   []Balance `json:"balances,omitempty"`
}

// Credential is what a login, registration or OAuth exchange yields.
type Credential struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// Patch converts the credential into a full AuthPatch.
func (c Credential) Patch() AuthPatch {
	return AuthPatch{Token: Value(c.Token), UserID: Value(c.UserID)}
}
