package prompt

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
	colorWhite  = lipgloss.Color("#f9fafb")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			MarginTop(1)

	readyStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBlue).
			Padding(0, 1)
)

// Banner prints the run header.
func Banner(w io.Writer, variant, cacheDir string) {
	fmt.Fprintln(w, boxStyle.Render(titleStyle.Render("piprov")+"\n"+
		dimStyle.Render(fmt.Sprintf("image %s, cache %s", variant, cacheDir))))
}

// Summary describes a finished provisioning run.
type Summary struct {
	Device   string
	Image    string
	Hostname string
	Username string
	Address  string
	Waited   bool
}

// SSHInstructions returns the command to log into the new host.
func SSHInstructions(username, hostname, address string) string {
	target := hostname
	if address != "" {
		target = address
	}
	return fmt.Sprintf("ssh %s@%s", username, target)
}

// PrintSummary prints the final report.
func PrintSummary(w io.Writer, s Summary) {
	var b strings.Builder
	b.WriteString(readyStyle.Render("[OK] provisioned "+s.Device) + "\n")
	b.WriteString(dimStyle.Render("image: "+s.Image) + "\n")

	switch {
	case s.Address != "":
		b.WriteString(sectionStyle.Render(fmt.Sprintf("%s is up at %s", s.Hostname, s.Address)) + "\n")
		b.WriteString("  " + SSHInstructions(s.Username, s.Hostname, s.Address) + "\n")
	case s.Waited:
		b.WriteString(warningStyle.Render(fmt.Sprintf("%s did not answer yet", s.Hostname)) + "\n")
	default:
		b.WriteString(sectionStyle.Render("Insert the card and power on the board, then:") + "\n")
		b.WriteString("  piprov await " + s.Hostname + "\n")
		b.WriteString("  " + SSHInstructions(s.Username, s.Hostname, "") + "\n")
	}
	fmt.Fprint(w, b.String())
}

// Warn prints a highlighted warning line.
func Warn(w io.Writer, msg string) {
	fmt.Fprintln(w, warningStyle.Render("[!!] "+msg))
}
