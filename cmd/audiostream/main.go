// Command audiostream streams live audio recordings into object storage.
package main

import (
	"os"

	"github.com/voxtrail/audiostream/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
