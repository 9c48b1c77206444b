// MetaStore server and client
// Stores METS composite documents as validated, independently updatable sections
package main

import (
	"context"
	"os"

	"github.com/nainya/metastore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
