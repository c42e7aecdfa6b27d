package cli

import (
	"fmt"
	"os"

	"github.com/ije/gox/term"
	xterm "golang.org/x/term"
)

// isInteractive reports whether both stdin and stdout are terminals.
func isInteractive() bool {
	return xterm.IsTerminal(int(os.Stdin.Fd())) && xterm.IsTerminal(int(os.Stdout.Fd()))
}

func termConfirm(prompt string) (value bool) {
	fmt.Print(term.Cyan("? "))
	fmt.Print(prompt + " ")
	fmt.Print(term.Dim("(y/N)"))
	defer func() {
		term.ClearLine()
		fmt.Print("\r")
	}()
	for {
		key, err := getRawInput()
		if err != nil {
			return false
		}
		switch key {
		case 3, 27: // Ctrl+C, Escape
			fmt.Print("\n")
			fmt.Print(term.Dim("Aborted."))
			fmt.Print("\n")
			os.Exit(0)
		case 13, 32: // Enter, Space
			return false
		case 'y', 'Y':
			return true
		case 'n', 'N':
			return false
		}
	}
}

// getRawInput reads one key press from the terminal.
func getRawInput() (byte, error) {
	fd := int(os.Stdin.Fd())
	oldState, err := xterm.MakeRaw(fd)
	if err != nil {
		return 0, err
	}
	defer xterm.Restore(fd, oldState)

	buf := make([]byte, 3)
	n, err := os.Stdin.Read(buf)
	if err != nil {
		return 0, err
	}
	// escape sequences carry the key in the third byte
	if n == 3 {
		return buf[2], nil
	}
	return buf[0], nil
}
