// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 U.S. Geological Survey

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkennedy-usgs/sdi12-wsn/pkg/bridge"
)

var (
	listenAddr string
	wsUsername string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	Long: `Run the bridge: discover and configure the wireless nodes, then
serve the SDI-12 interface until interrupted.

With --listen, a websocket status feed is served at /status; the monitor
command renders it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sdi12Port == "" || xbeePort == "" {
			return fmt.Errorf("both --sdi12-port and --xbee-port are required")
		}

		b, err := bridge.New(bridge.Config{
			SDI12Port: sdi12Port,
			XBeePort:  xbeePort,
		})
		if err != nil {
			return err
		}
		defer b.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if listenAddr != "" {
			password := ""
			if wsUsername != "" {
				password, err = feedPassword()
				if err != nil {
					return err
				}
			}
			srv := bridge.NewStatusServer(b, wsUsername, password)
			go func() {
				if err := srv.ListenAndServe(ctx, listenAddr); err != nil {
					log.Printf("status server: %v", err)
				}
			}()
			log.Printf("status feed on ws://%s/status", listenAddr)
		}

		log.Printf("SDI-12: %s @ 1200 baud 7E1, XBee: %s @ 9600 baud", sdi12Port, xbeePort)
		err = b.Run(ctx)
		if ctx.Err() != nil {
			return nil // interrupted
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address for the websocket status feed (e.g. :8080)")
	runCmd.Flags().StringVar(&wsUsername, "username", "", "Username for status feed basic auth")
	rootCmd.AddCommand(runCmd)
}
