// Command practicesync manages synchronized clients, documents and tasks.
package main

import "github.com/mesh-intelligence/practicesync/internal/cli"

func main() {
	cli.Execute()
}
