package main

import (
	"os"

	"skywatch.live/sentinel/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
