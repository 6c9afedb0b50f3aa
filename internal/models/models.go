package models

import "strings"

// Trading modes a credential profile may declare. Only spot profiles are mirrored.
const (
	TradingModeSpot    = "spot"
	TradingModeFutures = "futures"
)

// DefaultProfileName is applied to profiles saved without a display name.
const DefaultProfileName = "Account"

// CredentialProfile is one follower account's exchange credentials and mirroring settings.
// Owner is not part of the stored record; it is derived from where the profile lives.
type CredentialProfile struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	APIKey        string  `json:"api_key" validate:"required"`
	SecretKey     string  `json:"secret_key" validate:"required"`
	TradingMode   string  `json:"trading_mode" validate:"oneof=spot futures"`
	MarginMode    string  `json:"margin_mode,omitempty"`
	CopyEnabled   bool    `json:"copy_enabled"`
	AllocationPct float64 `json:"allocation_pct" validate:"gte=0,lte=100"`

	Owner string `json:"-"`
}

// ApplyDefaults fills the optional fields the store documents defaults for.
func (p *CredentialProfile) ApplyDefaults() {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = DefaultProfileName
	}
	if p.TradingMode == "" {
		p.TradingMode = TradingModeSpot
	}
}

// HasCredentials reports whether both halves of the key pair are present.
func (p CredentialProfile) HasCredentials() bool {
	return p.APIKey != "" && p.SecretKey != ""
}

// IsSpot reports whether the profile trades on the spot market.
func (p CredentialProfile) IsSpot() bool {
	return p.TradingMode == "" || p.TradingMode == TradingModeSpot
}

// Role of a control-plane user.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStandard Role = "standard"
)

// UserAccount is a control-plane identity as stored in the configuration document.
type UserAccount struct {
	Username     string              `json:"username"`
	PasswordHash string              `json:"password"`
	Profiles     []CredentialProfile `json:"profiles"`

	Role Role `json:"-"`
}

// IsAdmin reports whether the account is the primary administrator.
func (u UserAccount) IsAdmin() bool {
	return u.Role == RoleAdmin
}
