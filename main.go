package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/igorsilveira/warden/cmd/warden"
)

func main() {
	if err := warden.Execute(); err != nil {
		var exit *warden.ExitError
		if errors.As(err, &exit) {
			if exit.Err != nil {
				fmt.Fprintln(os.Stderr, "warden:", exit.Err)
			}
			os.Exit(exit.Code)
		}
		fmt.Fprintln(os.Stderr, "warden:", err)
		os.Exit(1)
	}
}
