// Package csm owns operator-facing configuration: the watch list, trading
// mode, broker credentials, and the guarded mock/live mode switch.
// Credentials never leave the package unmasked.
package csm

// Credential is the broker credential set. AccountNo is stored without
// dashes.
type Credential struct {
	AppKey    string `json:"appKey"`
	AppSecret string `json:"appSecret"`
	AccountNo string `json:"accountNo"`
	UserID    string `json:"userId"`
}

// Settings is the persisted operator configuration.
type Settings struct {
	Version           string   `json:"version"`
	UpdatedAt         string   `json:"updatedAt"`
	WatchSymbols      []string `json:"watchSymbols"`
	Mode              string   `json:"mode"`
	LiveModeConfirmed bool     `json:"liveModeConfirmed"`
	CredentialsRef    string   `json:"credentialsRef"`
	BuyBudget         string   `json:"buyBudget,omitempty"`
}

// StoredCredentials is the persisted credential document.
type StoredCredentials struct {
	CredentialsID string     `json:"credentialsId"`
	UpdatedAt     string     `json:"updatedAt"`
	Provider      string     `json:"provider"`
	Credential    Credential `json:"credential"`
}

// SaveSettingsRequest is the save-settings input.
type SaveSettingsRequest struct {
	WatchSymbols      []string
	Mode              string
	LiveModeConfirmed bool
	BuyBudget         string
	Credential        Credential
}

// MaskedCredential is the only credential shape returned to callers.
type MaskedCredential struct {
	AppKey    string `json:"appKey"`
	AppSecret string `json:"appSecret"`
	AccountNo string `json:"accountNo"`
	UserID    string `json:"userId"`
}

// SettingsView is the save/read response with credentials masked.
type SettingsView struct {
	ConfigVersion     string           `json:"configVersion"`
	UpdatedAt         string           `json:"updatedAt"`
	WatchSymbols      []string         `json:"watchSymbols"`
	Mode              string           `json:"mode"`
	LiveModeConfirmed bool             `json:"liveModeConfirmed"`
	BuyBudget         string           `json:"buyBudget,omitempty"`
	CredentialMasked  MaskedCredential `json:"credentialMasked"`
}

// TradingGuardStatus is the engine snapshot checked before a mode switch.
type TradingGuardStatus struct {
	OpenOrders    int
	OpenPositions int
	EngineState   string
}
