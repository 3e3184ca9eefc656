//go:build tinygo

package main

import (
	"ember/app"
	"ember/hal"
)

func main() {
	h := hal.New()
	s, err := app.New(h, app.DefaultTable())
	if err != nil {
		h.Logger().WriteLineString("ember: " + err.Error())
		for {
		}
	}
	s.Run()
}
