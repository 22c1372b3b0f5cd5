// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/zenith/pkg/config"
	"github.com/Thermoquad/zenith/pkg/transport"
)

// passwordEnv holds the WebSocket Basic auth password.
const passwordEnv = "ZENITH_WS_PASSWORD"

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// linkAddress returns the TCP host:port of the configured link.
func linkAddress(link config.LinkConfig) string {
	return net.JoinHostPort(link.Host, strconv.Itoa(link.Port))
}

// linkDescription describes the configured link for banners.
func linkDescription(link config.LinkConfig) string {
	switch link.Kind {
	case config.LinkWebSocket:
		return fmt.Sprintf("WebSocket: %s", link.URL)
	case config.LinkSerial:
		return fmt.Sprintf("Serial: %s @ %d baud", link.SerialPort, link.Baud)
	}
	return fmt.Sprintf("TCP: %s", linkAddress(link))
}

// OpenDialer returns the dialer for the configured link
func OpenDialer(link config.LinkConfig) (transport.Dialer, string, error) {
	switch link.Kind {
	case config.LinkWebSocket:
		password := ""
		if link.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		dial, err := transport.WebSocketDialer(link.URL, link.Username, password, link.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return dial, linkDescription(link), nil

	case config.LinkSerial:
		return transport.SerialDialer(link.SerialPort, link.Baud), linkDescription(link), nil

	case config.LinkTCP:
		return transport.TCPDialer(link.Host, link.Port), linkDescription(link), nil
	}
	return nil, "", fmt.Errorf("unsupported link kind %q", link.Kind)
}
