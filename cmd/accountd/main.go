// Command accountd runs the account service: it opens the secret store under
// the data root, builds the backend bundle and serves the HTTP request
// surface until interrupted.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
