// Copyright (C) 2026  RepRap Host Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package serial attaches a G-code source to a serial port. Received
// bytes are marshalled into reactor context before being offered to the
// interpreter, so the interpreter never sees a byte outside a tick.
package serial

import (
	"fmt"
	"sync/atomic"
	"time"

	tarm "github.com/tarm/serial"

	"reprap-host/pkg/interp"
	"reprap-host/pkg/log"
	"reprap-host/pkg/reactor"
)

// retryDelay is how long a source backs off when the interpreter is
// still executing its previous line.
const retryDelay = 0.005

// Channel is one serial connection feeding an interpreter source.
type Channel struct {
	device string
	src    interp.SourceID
	port   *tarm.Port
	logger *log.Logger
	closed atomic.Bool

	// Reactor-context state: bytes received but not yet accepted by
	// the interpreter, and the timer that retries delivery.
	carry []byte
	retry *reactor.Timer
}

// Open configures and opens a serial device. The port is put into
// low-latency mode first where the platform supports it.
func Open(device string, baud int, src interp.SourceID, logger *log.Logger) (*Channel, error) {
	if err := setLowLatency(device); err != nil {
		logger.Debugf("low-latency mode unavailable on %s: %v", device, err)
	}
	port, err := tarm.OpenPort(&tarm.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 250 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return &Channel{
		device: device,
		src:    src,
		port:   port,
		logger: logger.WithPrefix("serial." + src.String()),
	}, nil
}

// Start wires the channel to the interpreter: replies flow back out the
// port and a reader goroutine pumps received bytes inward.
func (c *Channel) Start(r *reactor.Reactor, in *interp.Interpreter) {
	in.SetReplyWriter(c.src, func(msg string) {
		if _, err := c.port.Write([]byte(msg + "\n")); err != nil && !c.closed.Load() {
			c.logger.Errorf("write failed: %v", err)
		}
	})
	go c.readLoop(r, in)
}

func (c *Channel) readLoop(r *reactor.Reactor, in *interp.Interpreter) {
	buf := make([]byte, 256)
	for {
		n, err := c.port.Read(buf)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Errorf("read failed: %v", err)
			return
		}
		if n == 0 {
			if c.closed.Load() {
				return
			}
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		done := r.RunAsync(func(eventtime float64) interface{} {
			c.carry = append(c.carry, data...)
			c.deliver(r, in)
			return nil
		})
		// Wait for the handoff so the reader cannot outrun the
		// interpreter's buffers.
		done.Wait(time.Second, nil)
	}
}

// deliver runs in reactor context. Bytes the interpreter refuses stay
// in carry and a timer retries them shortly.
func (c *Channel) deliver(r *reactor.Reactor, in *interp.Interpreter) {
	for len(c.carry) > 0 {
		if !in.FeedChar(c.src, c.carry[0]) {
			break
		}
		c.carry = c.carry[1:]
	}
	if len(c.carry) == 0 {
		if c.retry != nil {
			r.UnregisterTimer(c.retry)
			c.retry = nil
		}
		return
	}
	if c.retry == nil {
		c.retry = r.RegisterTimer(func(eventtime float64) float64 {
			c.deliver(r, in)
			if len(c.carry) == 0 {
				return reactor.NEVER
			}
			return eventtime + retryDelay
		}, r.Monotonic()+retryDelay)
	}
}

// Close stops the channel. The reader goroutine exits on its next
// timeout or error.
func (c *Channel) Close() error {
	c.closed.Store(true)
	return c.port.Close()
}
