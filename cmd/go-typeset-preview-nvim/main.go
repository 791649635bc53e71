package main

import (
	"log"

	"github.com/neovim/go-client/nvim/plugin"

	"go-typeset-preview/internal/host"
)

// Set up the connection to Neovim, register the command handlers and keep
// listening for requests.
func main() {
	plugin.Main(func(p *plugin.Plugin) error {
		log.Println("[typeset-preview] registering handlers")
		return host.Register(p)
	})
}
