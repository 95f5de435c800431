// Command kmsctl exercises a scan-out surface from the command line: list
// planes and formats, test a commit, set a mode, and drive page flips.
package main

import "github.com/kmscore/scanout/cmd/kmsctl/internal/kmsctl"

func main() {
	kmsctl.Execute()
}
