// Command semantica-core is the CLI entry point: start the indexing
// core, run a one-shot search, or print version information.
package main

import "github.com/jeanbovet/semantica/internal/cli"

func main() {
	cli.Execute()
}
