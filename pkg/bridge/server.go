// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package bridge

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// statusInterval paces the websocket status feed.
const statusInterval = 1 * time.Second

// StatusServer publishes CBOR status frames over a websocket endpoint,
// guarded by HTTP basic auth when credentials are configured.
type StatusServer struct {
	bridge   *Bridge
	username string
	password string
	upgrader websocket.Upgrader
}

// NewStatusServer returns a server publishing the bridge's snapshots. Empty
// credentials disable authentication, for feeds bound to localhost.
func NewStatusServer(b *Bridge, username, password string) *StatusServer {
	return &StatusServer{
		bridge:   b,
		username: username,
		password: password,
	}
}

// ListenAndServe serves the /status endpoint until the context is canceled.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *StatusServer) authorized(r *http.Request) bool {
	if s.username == "" && s.password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="sdi12-wsn"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for range ticker.C {
		data, err := EncodeStatus(s.bridge.Snapshot())
		if err != nil {
			log.Printf("status encode: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
}
