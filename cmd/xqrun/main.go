// Command xqrun compiles and evaluates query plans against a set of XML
// documents.
//
//	xqrun -d /db/library.xml=testdata/library.xml query.yaml
//
// Each plan file is evaluated once per --repeat, in parallel. Compiled
// queries are pooled per plan file, so repeated runs reuse them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
