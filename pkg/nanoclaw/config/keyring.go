// Package config – keyring.go resolves secrets through the OS native
// keyring. Priority order:
//
//  1. Environment variable (highest, works everywhere)
//  2. OS keyring (encrypted by the OS, requires a user session)
//  3. Config file value (lowest, plaintext)
package config

import (
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "nanoclaw"

	// keyringDiscordToken is the key name for the Discord bot token.
	keyringDiscordToken = "discord_token"
)

// StoreDiscordToken saves the Discord bot token to the OS keyring.
func StoreDiscordToken(token string) error {
	return keyring.Set(keyringService, keyringDiscordToken, token)
}

// ResolveDiscordToken applies the secret resolution chain for the Discord
// bot token. configValue is the raw value from the config file.
func ResolveDiscordToken(configValue string) string {
	if val := os.Getenv("NANOCLAW_DISCORD_TOKEN"); val != "" {
		return val
	}
	if val, err := keyring.Get(keyringService, keyringDiscordToken); err == nil && val != "" {
		return val
	}
	if isEnvReference(configValue) {
		// Unresolved placeholder; treat as unset.
		return ""
	}
	return configValue
}
