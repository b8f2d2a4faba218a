package models

import (
	"encoding/json"
	"time"
)

// RunState is the state carried between runs of the bot for one account
type RunState struct {
	AccountName   string          `json:"account_name" db:"account_name"`
	PollData      json.RawMessage `json:"poll_data,omitempty" db:"poll_data"`
	LoginAttempts []time.Time     `json:"login_attempts" db:"login_attempts"`
	LoginKey      string          `json:"login_key,omitempty" db:"login_key"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// APICredentials are the third-party listing service credentials
type APICredentials struct {
	APIKey      string `json:"api_key"`
	AccessToken string `json:"access_token"`
}

// Complete reports whether both credentials are present
func (c APICredentials) Complete() bool {
	return c.APIKey != "" && c.AccessToken != ""
}

// ProfileSettings are the public profile visibility settings applied during startup
type ProfileSettings struct {
	Profile        int  `json:"profile"`
	Inventory      int  `json:"inventory"`
	InventoryGifts bool `json:"inventory_gifts"`
}

// PublicProfileSettings makes the profile and inventory public so trade partners can see them
func PublicProfileSettings() ProfileSettings {
	return ProfileSettings{
		Profile:        3,
		Inventory:      3,
		InventoryGifts: false,
	}
}
