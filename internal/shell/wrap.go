package shell

import (
	"fmt"
	"strings"
)

// Wrap builds the single input line that runs command between sentinel
// markers. The line echoes startMarker, evaluates the command through the
// dialect's eval so a syntax error inside it cannot take the rest of the line
// down with it, then echoes endMarker followed by the numeric exit status.
// Without the eval indirection a malformed command would make the shell
// reject the entire line, the end marker would never appear, and capture
// would hang until timeout.
func Wrap(command, startMarker, endMarker string, t Type) string {
	if t == TypeFish {
		// fish has no $?; its status variable is $status.
		return fmt.Sprintf("echo %s; eval \"%s\"; echo %s $status",
			startMarker, escapeFish(command), endMarker)
	}
	return fmt.Sprintf("echo %s; eval '%s'; echo %s $?",
		startMarker, escapePosix(command), endMarker)
}

// escapePosix makes command safe inside single quotes for sh/bash/zsh:
// each embedded ' becomes '\''.
func escapePosix(command string) string {
	return strings.ReplaceAll(command, "'", `'\''`)
}

// escapeFish makes command safe inside double quotes for fish: backslashes
// first, then double quotes.
func escapeFish(command string) string {
	command = strings.ReplaceAll(command, `\`, `\\`)
	return strings.ReplaceAll(command, `"`, `\"`)
}
