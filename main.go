// Command load-engine runs HTTP load tests against a control-plane API.
package main

import (
	"os"

	"yqhp/load-engine/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
