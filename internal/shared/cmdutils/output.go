// Package cmdutils has console output helpers shared by the CLI commands.
package cmdutils

import "fmt"

const logo = "🐈"

// PrintResponse prints an agent reply to the terminal. Empty replies
// (suppressed turns) print nothing.
func PrintResponse(text string) {
	if text == "" {
		return
	}

	fmt.Printf("\n%s nanobot\n%s\n\n", logo, text)
}
