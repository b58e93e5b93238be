package prompt

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const certificateEnd = "-----END CERTIFICATE-----"

// PortChecker reports whether a TCP port can be bound on the host.
type PortChecker func(port int) bool

// ListenCheck binds and releases the port on all interfaces.
func ListenCheck(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Confirm asks a yes/no question until it gets one.
func Confirm(ctx context.Context, p Provider, text string) (bool, error) {
	for {
		answer, err := p.Ask(ctx, Question{Key: KeyConfirm, Text: text + " (y/n): "})
		if err != nil {
			return false, err
		}
		if yes, ok := YesNo(answer); ok {
			return yes, nil
		}
		if !p.Interactive() {
			return false, fmt.Errorf("%w: confirm=%q", ErrInvalidInput, answer)
		}
		p.Say("Please answer y or n.")
	}
}

// YesNo parses a confirmation answer. ok is false for anything but y/yes/n/no.
func YesNo(answer string) (yes bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	}
	return false, false
}

// Port asks for the service port. Empty input selects def.
func Port(ctx context.Context, p Provider, def int, free PortChecker) (int, error) {
	if free == nil {
		free = ListenCheck
	}
	text := fmt.Sprintf("Enter the service port (default %d): ", def)
	for {
		answer, err := p.Ask(ctx, Question{Key: KeyPort, Text: text})
		if errors.Is(err, ErrNoAnswer) && !p.Interactive() {
			answer, err = "", nil
		}
		if err != nil {
			return 0, err
		}
		port, reason := parsePort(answer, def)
		if reason == "" && !free(port) {
			reason = fmt.Sprintf("port %d is already in use", port)
		}
		if reason == "" {
			return port, nil
		}
		if !p.Interactive() {
			return 0, fmt.Errorf("%w: %s", ErrInvalidInput, reason)
		}
		p.Say("%s, choose another port.", reason)
	}
}

func parsePort(answer string, def int) (int, string) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return def, ""
	}
	port, err := strconv.Atoi(answer)
	if err != nil {
		return 0, fmt.Sprintf("%q is not a number", answer)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Sprintf("port %d is out of range", port)
	}
	return port, ""
}

// Certificate reads a PEM client certificate and verifies it decodes.
func Certificate(ctx context.Context, p Provider) ([]byte, error) {
	text, err := p.ReadBlock(ctx, Question{
		Key:  KeyCertificate,
		Text: "Paste the client certificate, then press ENTER on an empty line:",
	}, certificateEnd)
	if err != nil {
		return nil, err
	}
	data := []byte(strings.TrimSpace(text) + "\n")
	if err := ValidateCertificate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ValidateCertificate requires at least one PEM CERTIFICATE block.
func ValidateCertificate(data []byte) error {
	rest := data
	for {
		block, next := pem.Decode(rest)
		if block == nil {
			return fmt.Errorf("%w: no PEM certificate block", ErrInvalidCertificate)
		}
		if block.Type == "CERTIFICATE" {
			return nil
		}
		rest = next
	}
}
