package main

import (
	stlog "log"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		stlog.Fatal(err)
	}
}
