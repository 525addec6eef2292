package models

// Operator represents the account allowed to use the admin and read APIs
type Operator struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	IsAdmin      bool   `json:"is_admin"`
}
