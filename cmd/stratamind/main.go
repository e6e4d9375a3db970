// Command stratamind serves the two-factor login API.
package main

import (
	"context"
	"log"

	"github.com/dalemusser/stratamind/internal/app/bootstrap"
	"github.com/dalemusser/waffle/app"
)

func main() {
	if err := app.Run(context.Background(), bootstrap.Hooks); err != nil {
		log.Fatal(err)
	}
}
