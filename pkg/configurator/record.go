package configurator

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/pelletier/go-toml/v2"

	"github.com/piprov/piprov/pkg/security"
)

// FileName is the first-boot configuration file on the boot partition.
const FileName = "custom.toml"

// Record is the operator's provisioning input. Secrets arrive already hashed.
type Record struct {
	Hostname     string
	Username     string
	PasswordHash string
	WifiSSID     string
	WifiPSKHash  string
	WifiCountry  string
	Keymap       string
	Timezone     string
}

// Validate checks every field before it is rendered.
func (r Record) Validate() error {
	if err := security.ValidateHostname(r.Hostname); err != nil {
		return err
	}
	if err := security.ValidateUsername(r.Username); err != nil {
		return err
	}
	if r.PasswordHash == "" {
		return fmt.Errorf("password hash is empty")
	}
	if r.WifiSSID == "" {
		return fmt.Errorf("wifi ssid is empty")
	}
	if r.WifiPSKHash == "" {
		return fmt.Errorf("wifi psk hash is empty")
	}
	if err := security.ValidateCountry(r.WifiCountry); err != nil {
		return err
	}
	fields := map[string]string{
		"hostname": r.Hostname, "username": r.Username, "password": r.PasswordHash,
		"ssid": r.WifiSSID, "psk": r.WifiPSKHash, "keymap": r.Keymap, "timezone": r.Timezone,
	}
	for name, value := range fields {
		if err := security.ValidateQuoted(name, value); err != nil {
			return err
		}
	}
	return nil
}

var customTemplate = template.Must(template.New(FileName).Funcs(template.FuncMap{"q": quote}).Parse(`config_version = 1

[system]
hostname = {{ q .Hostname }}

[user]
name = {{ q .Username }}
password = {{ q .PasswordHash }}
password_encrypted = true

[ssh]
enabled = true
password_authentication = true

[wlan]
ssid = {{ q .WifiSSID }}
password = {{ q .WifiPSKHash }}
password_encrypted = true
hidden = false
country = {{ q .WifiCountry }}

[locale]
keymap = {{ q .Keymap }}
timezone = {{ q .Timezone }}
`))

// quote renders s as a TOML basic string.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\u%04X`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// document mirrors the rendered file for parse-back checks.
type document struct {
	ConfigVersion int `toml:"config_version"`
	System        struct {
		Hostname string `toml:"hostname"`
	} `toml:"system"`
	User struct {
		Name              string `toml:"name"`
		Password          string `toml:"password"`
		PasswordEncrypted bool   `toml:"password_encrypted"`
	} `toml:"user"`
	SSH struct {
		Enabled                bool `toml:"enabled"`
		PasswordAuthentication bool `toml:"password_authentication"`
	} `toml:"ssh"`
	WLAN struct {
		SSID              string `toml:"ssid"`
		Password          string `toml:"password"`
		PasswordEncrypted bool   `toml:"password_encrypted"`
		Hidden            bool   `toml:"hidden"`
		Country           string `toml:"country"`
	} `toml:"wlan"`
	Locale struct {
		Keymap   string `toml:"keymap"`
		Timezone string `toml:"timezone"`
	} `toml:"locale"`
}

// Render produces the first-boot configuration file for r. The output is
// deterministic and is parsed back to confirm every value survived quoting.
func Render(r Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := customTemplate.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("render %s: %w", FileName, err)
	}

	var doc document
	if err := toml.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("rendered %s is not valid TOML: %w", FileName, err)
	}
	if doc.System.Hostname != r.Hostname || doc.User.Password != r.PasswordHash || doc.WLAN.SSID != r.WifiSSID {
		return nil, fmt.Errorf("rendered %s does not round-trip", FileName)
	}
	return buf.Bytes(), nil
}
