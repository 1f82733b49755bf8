// encstream is the command line client: it generates secrets, seals and opens envelopes
// and sends requests through a sealed proxy.
package main

import "github.com/theamanone/encstream/internal/cli"

func main() {
	cli.Execute()
}
