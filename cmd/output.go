package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	liveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
)

// ErrorLabel is the prefix printed before a fatal error.
func ErrorLabel() string {
	return errStyle.Render("error:")
}

func isVerbose(cmd *cli.Command) bool {
	if cmd == nil {
		return false
	}
	if cmd.Bool("verbose") {
		return true
	}
	root := cmd.Root()
	return root != nil && root.Bool("verbose")
}

// newLogger logs to stderr, at debug level with --verbose.
func newLogger(cmd *cli.Command) *slog.Logger {
	level := slog.LevelInfo
	if isVerbose(cmd) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printOK(format string, args ...any) {
	fmt.Printf("%s %s\n", okStyle.Render("ok"), fmt.Sprintf(format, args...))
}

func printWarn(format string, args ...any) {
	fmt.Printf("%s %s\n", warnStyle.Render("warn"), fmt.Sprintf(format, args...))
}

func printTitle(title string) {
	fmt.Println(titleStyle.Render(title))
}

func printDetail(label string, value any) {
	fmt.Printf("  %s %v\n", dimStyle.Render(fmt.Sprintf("%-10s", label)), value)
}

func printNone() {
	fmt.Println(dimStyle.Render("  (none)"))
}
