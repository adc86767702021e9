package waclient

import (
	"encoding/base64"
	"os"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"

	"wabridge/platform/logger"
)

// QRRenderer turns raw login challenge payloads into base64 PNG data URLs
// and optionally mirrors them to the terminal.
type QRRenderer struct {
	logger   *logger.Logger
	terminal bool

	mu       sync.Mutex
	lastCode string
}

func NewQRRenderer(terminal bool, log *logger.Logger) *QRRenderer {
	return &QRRenderer{
		logger:   log.WithModule("qrcode"),
		terminal: terminal,
	}
}

// DataURL encodes the payload as a 256px PNG data URL. The raw payload is
// returned unchanged when encoding fails so the login flow keeps moving.
func (q *QRRenderer) DataURL(payload string) string {
	if payload == "" {
		return ""
	}

	if q.terminal {
		q.displayInTerminal(payload)
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		q.logger.WithError(err).Error("failed to encode QR code")
		return payload
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func (q *QRRenderer) displayInTerminal(payload string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastCode == payload {
		return
	}
	q.lastCode = payload
	qrterminal.GenerateHalfBlock(payload, qrterminal.L, os.Stdout)
}
