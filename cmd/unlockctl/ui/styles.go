package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("63")).
			Width(22)
)

// PrintTitle prints a section heading.
func PrintTitle(msg string) {
	fmt.Println(titleStyle.Render(msg))
}

// PrintSuccess prints a success message.
func PrintSuccess(msg string) {
	fmt.Println(successStyle.Render(msg))
}

// PrintHint prints secondary information.
func PrintHint(msg string) {
	fmt.Println(subtleStyle.Render(msg))
}

// PrintError prints an error message.
func PrintError(msg string) {
	fmt.Println(errorStyle.Render("Error: " + msg))
}

// PrintKeyValue prints an aligned key/value line, as used for env output.
func PrintKeyValue(key, value string) {
	fmt.Println(keyStyle.Render(key) + value)
}
