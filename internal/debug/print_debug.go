//go:build debug

package debug

import (
	"fmt"
	"os"
)

const Debug = true

// Print writes a trace line to stderr so it never mixes with command output
func Print(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "memo[debug] "+format, args...)
}
