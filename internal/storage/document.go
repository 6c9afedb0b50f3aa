package storage

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"spotmirror/internal/models"
)

// DefaultAdminUsername is assumed when api_server.username is absent.
const DefaultAdminUsername = "admin"

// rawFields carries keys of a JSON object this package does not model,
// so rewriting the document keeps every unrelated setting.
type rawFields map[string]json.RawMessage

func splitFields(data []byte, v any, known ...string) (rawFields, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}

	var all rawFields
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}

	return all, nil
}

func joinFields(v any, extra rawFields) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}

	var out rawFields
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := out[k]; !ok {
			out[k] = raw
		}
	}

	return json.Marshal(out)
}

// Document is the configuration file shared with the trading engine.
// Only the sections the control plane owns are typed.
type Document struct {
	Exchange      ExchangeSection  `json:"exchange"`
	TradingMode   string           `json:"trading_mode,omitempty"`
	MarginMode    string           `json:"margin_mode,omitempty"`
	StakeCurrency string           `json:"stake_currency,omitempty"`
	APIServer     APIServerSection `json:"api_server"`

	extra rawFields
}

func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document

	var p plain
	extra, err := splitFields(data, &p, "exchange", "trading_mode", "margin_mode", "stake_currency", "api_server")
	if err != nil {
		return err
	}

	*d = Document(p)
	d.extra = extra

	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	type plain Document
	return joinFields(plain(d), d.extra)
}

// ExchangeSection holds the credential the engine currently trades with.
type ExchangeSection struct {
	Name   string `json:"name,omitempty"`
	Key    string `json:"key"`
	Secret string `json:"secret"`

	extra rawFields
}

func (e *ExchangeSection) UnmarshalJSON(data []byte) error {
	type plain ExchangeSection

	var p plain
	extra, err := splitFields(data, &p, "name", "key", "secret")
	if err != nil {
		return err
	}

	*e = ExchangeSection(p)
	e.extra = extra

	return nil
}

func (e ExchangeSection) MarshalJSON() ([]byte, error) {
	type plain ExchangeSection
	return joinFields(plain(e), e.extra)
}

// APIServerSection holds the admin identity, the additional tenants and their profiles.
type APIServerSection struct {
	Username     string                     `json:"username,omitempty"`
	Password     string                     `json:"password,omitempty"`
	Key          string                     `json:"key,omitempty"`
	JWTSecretKey string                     `json:"jwt_secret_key,omitempty"`
	WSToken      SecretList                 `json:"ws_token,omitempty"`
	Profiles     []models.CredentialProfile `json:"profiles,omitempty"`
	Users        []models.UserAccount       `json:"users,omitempty"`

	extra rawFields
}

func (a *APIServerSection) UnmarshalJSON(data []byte) error {
	type plain APIServerSection

	var p plain
	extra, err := splitFields(data, &p, "username", "password", "key", "jwt_secret_key", "ws_token", "profiles", "users")
	if err != nil {
		return err
	}

	*a = APIServerSection(p)
	a.extra = extra

	return nil
}

func (a APIServerSection) MarshalJSON() ([]byte, error) {
	type plain APIServerSection
	return joinFields(plain(a), a.extra)
}

// AdminUsername returns the configured admin name or the default one.
func (a *APIServerSection) AdminUsername() string {
	if a.Username == "" {
		return DefaultAdminUsername
	}

	return a.Username
}

// SecretList accepts either a single string or a list of strings.
type SecretList []string

func (s *SecretList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = nil
		if one != "" {
			*s = SecretList{one}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("ws_token must be a string or a list of strings: %w", err)
	}
	*s = many

	return nil
}

func (s SecretList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}

	return json.Marshal([]string(s))
}

// ActiveKey returns the api key the engine is currently trading with.
func (d *Document) ActiveKey() string {
	return d.Exchange.Key
}

// Account returns the user with the given name, admin included.
func (d *Document) Account(username string) (models.UserAccount, bool) {
	if username == d.APIServer.AdminUsername() {
		return d.adminAccount(), true
	}

	for _, u := range d.APIServer.Users {
		if u.Username == username {
			u.Role = models.RoleStandard
			u.Profiles = ownedBy(u.Profiles, u.Username)
			return u, true
		}
	}

	return models.UserAccount{}, false
}

// Accounts returns the admin followed by every additional tenant.
func (d *Document) Accounts() []models.UserAccount {
	accounts := make([]models.UserAccount, 0, len(d.APIServer.Users)+1)
	accounts = append(accounts, d.adminAccount())

	for _, u := range d.APIServer.Users {
		u.Role = models.RoleStandard
		u.Profiles = ownedBy(u.Profiles, u.Username)
		accounts = append(accounts, u)
	}

	return accounts
}

// AllProfiles returns every profile of every user, with Owner set.
func (d *Document) AllProfiles() []models.CredentialProfile {
	var all []models.CredentialProfile
	for _, acc := range d.Accounts() {
		all = append(all, acc.Profiles...)
	}

	return all
}

// ProfilesOf returns a pointer to the stored profile list of username for in-place mutation.
func (d *Document) ProfilesOf(username string) (*[]models.CredentialProfile, bool) {
	if username == d.APIServer.AdminUsername() {
		return &d.APIServer.Profiles, true
	}

	for i := range d.APIServer.Users {
		if d.APIServer.Users[i].Username == username {
			return &d.APIServer.Users[i].Profiles, true
		}
	}

	return nil, false
}

func (d *Document) adminAccount() models.UserAccount {
	name := d.APIServer.AdminUsername()

	return models.UserAccount{
		Username:     name,
		PasswordHash: d.APIServer.Password,
		Profiles:     ownedBy(d.APIServer.Profiles, name),
		Role:         models.RoleAdmin,
	}
}

func ownedBy(profiles []models.CredentialProfile, owner string) []models.CredentialProfile {
	out := make([]models.CredentialProfile, len(profiles))
	for i, p := range profiles {
		p.Owner = owner
		out[i] = p
	}

	return out
}

// Clone returns a deep copy safe to hand out to readers.
func (d *Document) Clone() *Document {
	c := *d
	c.extra = maps.Clone(d.extra)
	c.Exchange.extra = maps.Clone(d.Exchange.extra)
	c.APIServer.extra = maps.Clone(d.APIServer.extra)
	c.APIServer.WSToken = slices.Clone(d.APIServer.WSToken)
	c.APIServer.Profiles = slices.Clone(d.APIServer.Profiles)

	c.APIServer.Users = slices.Clone(d.APIServer.Users)
	for i := range c.APIServer.Users {
		c.APIServer.Users[i].Profiles = slices.Clone(c.APIServer.Users[i].Profiles)
	}

	return &c
}
