// Command lms-session manages an LMS client session from the terminal.
package main

import "github.com/projectm/lms-session/cmd/lms-session/cmd"

func main() {
	cmd.Execute()
}
