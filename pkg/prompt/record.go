// Package prompt collects the operator's provisioning answers and renders
// operator-facing messages.
package prompt

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/charmbracelet/huh"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"

	"github.com/piprov/piprov/pkg/configurator"
	"github.com/piprov/piprov/pkg/security"
)

// Answers holds the raw form input. Secrets are hashed by BuildRecord and
// never leave this package in clear text.
type Answers struct {
	Hostname    string
	Username    string
	Password    string
	WifiSSID    string
	WifiPSK     string
	WifiCountry string
	Keymap      string
	Timezone    string
}

// HashPassword returns a bcrypt hash suitable for the first-boot user.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// WPAPSK derives the 256-bit WPA pre-shared key from a passphrase, as
// wpa_passphrase does.
func WPAPSK(ssid, passphrase string) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(passphrase), []byte(ssid), 4096, 32, sha1.New))
}

func validatePassphrase(s string) error {
	if len(s) < 8 || len(s) > 63 {
		return fmt.Errorf("wifi passphrase must be 8-63 characters")
	}
	return nil
}

func validatePassword(s string) error {
	if s == "" {
		return fmt.Errorf("password cannot be empty")
	}
	return nil
}

// BuildRecord validates a and hashes its secrets.
func BuildRecord(a Answers) (configurator.Record, error) {
	if err := validatePassword(a.Password); err != nil {
		return configurator.Record{}, err
	}
	if err := validatePassphrase(a.WifiPSK); err != nil {
		return configurator.Record{}, err
	}
	hash, err := HashPassword(a.Password)
	if err != nil {
		return configurator.Record{}, err
	}
	rec := configurator.Record{
		Hostname:     a.Hostname,
		Username:     a.Username,
		PasswordHash: hash,
		WifiSSID:     a.WifiSSID,
		WifiPSKHash:  WPAPSK(a.WifiSSID, a.WifiPSK),
		WifiCountry:  a.WifiCountry,
		Keymap:       a.Keymap,
		Timezone:     a.Timezone,
	}
	return rec, rec.Validate()
}

// AskRecord prompts for the provisioning answers, starting from defaults.
func AskRecord(ctx context.Context, defaults Answers) (configurator.Record, error) {
	a := defaults
	a.Password, a.WifiPSK = "", ""

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Hostname").
				Description("Name the board will announce on the network").
				Placeholder("raspberrypi").
				Value(&a.Hostname).
				Validate(security.ValidateHostname),
			huh.NewInput().
				Title("Username").
				Value(&a.Username).
				Validate(security.ValidateUsername),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&a.Password).
				Validate(validatePassword),
		).Title("User"),
		huh.NewGroup(
			huh.NewInput().
				Title("Wi-Fi SSID").
				Value(&a.WifiSSID).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("ssid cannot be empty")
					}
					return security.ValidateQuoted("ssid", s)
				}),
			huh.NewInput().
				Title("Wi-Fi passphrase").
				EchoMode(huh.EchoModePassword).
				Value(&a.WifiPSK).
				Validate(validatePassphrase),
			huh.NewInput().
				Title("Wi-Fi country").
				Description("ISO 3166 alpha-2 code, e.g. GB or US").
				Value(&a.WifiCountry).
				Validate(security.ValidateCountry),
		).Title("Wireless"),
		huh.NewGroup(
			huh.NewInput().
				Title("Keyboard layout").
				Value(&a.Keymap),
			huh.NewInput().
				Title("Timezone").
				Placeholder("Europe/London").
				Value(&a.Timezone),
		).Title("Locale"),
	).RunWithContext(ctx)
	if err != nil {
		return configurator.Record{}, err
	}

	return BuildRecord(a)
}
