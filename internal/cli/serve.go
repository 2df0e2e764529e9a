package cli

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tally/internal/hub"
	"tally/internal/web"
)

func newServeCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server (REST + websocket live feed)",
		Long: strings.TrimSpace(`
Run the HTTP server that exposes the item and timer operations over
REST and streams live view snapshots over a websocket. Mutations made
by any client (REST or websocket) fan out to every connected session
in the matching visibility scope.
`),
		Example: strings.TrimSpace(`
# Serve on localhost
tally serve --addr 127.0.0.1:3345

# Any interface, custom database
tally --db /srv/tally/tally.db serve --addr :3345
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr := strings.TrimSpace(addr)
			if listenAddr == "" {
				return errors.New("serve: missing --addr")
			}

			st, err := openStore(app)
			if err != nil {
				return err
			}
			defer st.Close()

			h := hub.New()
			defer h.Shutdown()

			srv, err := web.NewServer(web.ServerConfig{
				Addr:    listenAddr,
				DataDir: filepath.Dir(st.Path()),
			}, st, h)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", listenAddr)
			if err != nil {
				return err
			}

			actualAddr := ln.Addr().String()
			url := "http://" + actualAddr + "/"

			_ = writeOut(cmd, app, map[string]any{
				"addr": actualAddr,
				"url":  url,
				"db":   st.Path(),
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "tally web running at %s\n", url)

			return http.Serve(ln, srv.Handler())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3345", "Bind address (host:port or :port)")
	return cmd
}

func newTUICmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Start the interactive TUI (same as running tally with no arguments)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(app)
		},
	}
}
