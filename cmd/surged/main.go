// Command surged runs the surge HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/surgeserve/surge/app"
	"github.com/surgeserve/surge/config"
	"github.com/surgeserve/surge/core/http"
	"github.com/surgeserve/surge/core/router"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	application := app.New(cfg)
	engine := application.Engine()

	engine.GET("/", func(_ *http.Request, _ router.Params) *http.Response {
		return http.Text(200, "surge is running\n")
	})

	engine.GET("/users/:id", func(_ *http.Request, ps router.Params) *http.Response {
		return http.JSON(200, map[string]string{"user_id": ps["id"]})
	})

	if err := application.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
