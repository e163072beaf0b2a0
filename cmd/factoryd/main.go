// Command factoryd generates network automation artifacts from declarative
// specifications: an Ansible playbook and inventory, documentation, a code
// review, a test suite and a CI/CD pipeline.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
