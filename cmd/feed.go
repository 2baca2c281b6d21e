// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 U.S. Geological Survey

package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"
)

// feedDialTimeout bounds the whole handshake against an unreachable bridge.
const feedDialTimeout = 15 * time.Second

// dialFeed connects to a bridge status feed. A non-empty username turns on
// basic auth; the password comes from feedPassword.
func dialFeed(rawURL, username string, insecure bool) (*websocket.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bad feed URL %q: %w", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed URL must use ws:// or wss://, got %q", u.Scheme)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = feedDialTimeout
	if u.Scheme == "wss" && insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	var header http.Header
	if username != "" {
		password, err := feedPassword()
		if err != nil {
			return nil, err
		}
		// Borrow net/http's credential encoding rather than rolling it here.
		req := &http.Request{Header: http.Header{}}
		req.SetBasicAuth(username, password)
		header = req.Header
	}

	ctx, cancel := context.WithTimeout(context.Background(), feedDialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.New("feed rejected the credentials")
		}
		if resp != nil {
			return nil, fmt.Errorf("feed handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return conn, nil
}

// feedPassword resolves the status feed password: the SDI12WSN_PASSWORD
// environment variable wins, otherwise prompt without echo. Non-interactive
// runs must use the environment; there is no --password flag, which would
// leak credentials into shell history.
func feedPassword() (string, error) {
	if pw := os.Getenv("SDI12WSN_PASSWORD"); pw != "" {
		return pw, nil
	}
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return "", errors.New("SDI12WSN_PASSWORD is not set and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
