package cmd

import (
	"fmt"
	"io"
)

const banner = `
      _           _
   __| | _____   _(_) _____      __
  / _` + "`" + ` |/ _ \ \ / / |/ _ \ \ /\ / /
 | (_| |  __/\ V /| |  __/\ V  V /
  \__,_|\___| \_/ |_|\___| \_/\_/
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Review Sign-In Service - Version %s\x1b[0m\n\n", Version)
}
