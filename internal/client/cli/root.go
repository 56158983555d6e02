package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

type executor interface {
	Execute(ctx context.Context, args []string) error
}

// runREPL reads commands from sc until EOF, exit or quit. Errors are
// printed and the loop goes on.
func runREPL(ctx context.Context, exec executor, prompt func() string, sc *bufio.Scanner, w io.Writer) {
	for {
		fmt.Fprint(w, prompt())
		if !sc.Scan() {
			return
		}

		parts := strings.Fields(sc.Text())
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		}

		if err := exec.Execute(ctx, parts); err != nil {
			fmt.Fprintln(w, "error:", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
