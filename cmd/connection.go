// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/heliograph/internal/config"
	"github.com/Thermoquad/heliograph/internal/session"
)

// Link timing
const (
	// SerialReadTimeout bounds a serial read so the I/O loop notices shutdown
	SerialReadTimeout = 100 * time.Millisecond

	// BridgeDialTimeout bounds the bridge handshake
	BridgeDialTimeout = 15 * time.Second
)

// PasswordEnv names the environment variable holding the bridge password
const PasswordEnv = "HELIOGRAPH_PASSWORD"

// ErrLinkClosed is returned by reads on a bridge link that has gone away
var ErrLinkClosed = errors.New("bridge link closed")

// Link is the byte connection to the target's logging UART
type Link = session.Link

// ============================================================
// Serial
// ============================================================

// SerialLink is the target UART on a local serial port.
// A read that times out returns 0 bytes and no error.
type SerialLink struct {
	serial.Port
	name string
}

// OpenSerialLink opens a port 8N1 and discards whatever the target sent
// before we attached, such as a stream left running by an earlier host.
func OpenSerialLink(portName string, baudRate int) (*SerialLink, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(SerialReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush %s: %w", portName, err)
	}

	return &SerialLink{Port: port, name: portName}, nil
}

// String describes the link for banners
func (s *SerialLink) String() string {
	return "Serial: " + s.name
}

// ============================================================
// Bridge
// ============================================================

// BridgeOptions locate a network serial bridge that forwards the target
// UART as binary WebSocket messages
type BridgeOptions struct {
	URL         string
	Username    string
	Password    string
	InsecureTLS bool // skip certificate checks on wss://
}

// BridgeLink is the target UART reached through a bridge. Each Write goes
// out as one binary message so paced commands keep their pacing; text
// messages from the bridge are status chatter and are dropped.
type BridgeLink struct {
	conn    *websocket.Conn
	url     string
	pending bytes.Reader
	err     error
}

// DialBridge connects to a bridge, with HTTP Basic auth when a username is set
func DialBridge(ctx context.Context, opts BridgeOptions) (*BridgeLink, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported bridge URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: BridgeDialTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureTLS}
	}

	auth := &http.Request{Header: http.Header{}}
	if opts.Username != "" {
		auth.SetBasicAuth(opts.Username, opts.Password)
	}

	ctx, cancel := context.WithTimeout(ctx, BridgeDialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), auth.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge refused connection (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge connection failed: %w", err)
	}
	return &BridgeLink{conn: conn, url: u.Redacted()}, nil
}

func (b *BridgeLink) Read(p []byte) (int, error) {
	if b.pending.Len() > 0 {
		return b.pending.Read(p)
	}
	if b.err != nil {
		return 0, b.err
	}

	for {
		kind, data, err := b.conn.ReadMessage()
		if err != nil {
			b.err = fmt.Errorf("%w: %w", ErrLinkClosed, err)
			return 0, b.err
		}
		if kind != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		b.pending.Reset(data)
		return b.pending.Read(p)
	}
}

func (b *BridgeLink) Write(p []byte) (int, error) {
	if err := b.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *BridgeLink) Close() error {
	return b.conn.Close()
}

// String describes the link for banners
func (b *BridgeLink) String() string {
	return "Bridge: " + b.url
}

// bridgePassword reads the password from PasswordEnv, or prompts for it
// when stdin is a terminal
func bridgePassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to prompt for the bridge password; set %s", PasswordEnv)
	}

	fmt.Fprint(os.Stderr, "Bridge password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// OpenLink connects to the bridge when --url is set, otherwise to the
// serial port from the settings
func OpenLink(s config.Settings) (Link, string, error) {
	if bridgeURL == "" {
		if s.PortName == "" {
			return nil, "", fmt.Errorf("either --port or --url must be specified")
		}
		link, err := OpenSerialLink(s.PortName, s.BaudRate)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("%s @ %d baud", link, s.BaudRate), nil
	}

	opts := BridgeOptions{
		URL:         bridgeURL,
		Username:    bridgeUsername,
		InsecureTLS: bridgeInsecure,
	}
	if opts.Username != "" {
		pw, err := bridgePassword()
		if err != nil {
			return nil, "", err
		}
		opts.Password = pw
	}

	link, err := DialBridge(context.Background(), opts)
	if err != nil {
		return nil, "", err
	}
	return link, link.String(), nil
}
