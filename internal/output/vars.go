package output

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	mu       sync.Mutex
	out      io.Writer = os.Stderr
	renderer           = lipgloss.NewRenderer(os.Stderr)
)

var (
	successStyle = renderer.NewStyle().Foreground(lipgloss.Color("37"))  // dark green
	errorStyle   = renderer.NewStyle().Foreground(lipgloss.Color("9"))   // red
	warningStyle = renderer.NewStyle().Foreground(lipgloss.Color("11"))  // yellow
	infoStyle    = renderer.NewStyle().Foreground(lipgloss.Color("14"))  // cyan
	debugStyle   = renderer.NewStyle().Foreground(lipgloss.Color("250")) // light grey
)

// SetOutput redirects all status lines. Colour support is still decided by
// the process stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func printLine(style lipgloss.Style, text string) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(out, style.Render(text))
}

func PrintSuccess(text string) {
	printLine(successStyle, text)
}
func PrintError(text string) {
	printLine(errorStyle, text)
}
func PrintWarning(text string) {
	printLine(warningStyle, text)
}
func PrintInfo(text string) {
	printLine(infoStyle, text)
}
func PrintDebug(text string) {
	printLine(debugStyle, text)
}
