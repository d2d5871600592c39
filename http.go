package main

import (
	"github.com/labstack/echo/v4"

	"i3gw/gateway/internal/api"
)

// newEchoServer builds the Echo router the websocket transport rides on.
func newEchoServer(ws *api.WSHandler, path string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	ws.Register(e, path)
	return e
}
