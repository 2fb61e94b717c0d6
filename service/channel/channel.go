// Package channel implements the length-prefixed message framing used
// between a backend and its out-of-process test host.  Messages are opaque
// UTF-8 payloads; each frame carries a uvarint length prefix so a reader
// recovers exactly one full message per read.
package channel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"
)

// CommunicationError wraps a transport fault so callers can tell channel
// failures apart from other errors.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication failure during %v: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// MessageHandler consumes one decoded inbound message.
type MessageHandler func(message string)

// Channel frames messages over a duplex byte stream.  Send serializes
// concurrent writers; NotifyDataAvailable performs exactly one frame read
// per call.
type Channel struct {
	writeMu sync.Mutex
	writer  *bufio.Writer
	reader  *bufio.Reader
	stream  io.ReadWriter

	handlerMu sync.RWMutex
	handler   MessageHandler

	disposeOnce sync.Once
	disposed    bool
}

// New wraps the supplied duplex stream.
func New(stream io.ReadWriter) *Channel {
	return &Channel{
		stream: stream,
		writer: bufio.NewWriter(stream),
		reader: bufio.NewReader(stream),
	}
}

// Subscribe registers the handler that receives decoded inbound messages.
// Passing nil unsubscribes.
func (c *Channel) Subscribe(handler MessageHandler) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

// Send writes one framed message and flushes it.  The lock spans the entire
// write plus flush, so concurrent senders produce whole, non-interleaved
// frames in some global order.
func (c *Channel) Send(message string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.disposed {
		return &CommunicationError{Op: "send", Err: fmt.Errorf("channel is disposed")}
	}
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(message)))
	if _, err := c.writer.Write(prefix[:n]); err != nil {
		return &CommunicationError{Op: "send", Err: err}
	}
	if _, err := c.writer.WriteString(message); err != nil {
		return &CommunicationError{Op: "send", Err: err}
	}
	if err := c.writer.Flush(); err != nil {
		return &CommunicationError{Op: "send", Err: err}
	}
	return nil
}

// NotifyDataAvailable attempts exactly one frame read.  The read happens
// even when no handler is subscribed: some transports only surface a
// peer-initiated close on the next read attempt, so skipping it would hide
// disconnects.  A subscribed handler is notified fire-and-forget; a panic in
// the handler never propagates back into the channel.
func (c *Channel) NotifyDataAvailable() error {
	length, err := binary.ReadUvarint(c.reader)
	if err != nil {
		return &CommunicationError{Op: "receive", Err: err}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return &CommunicationError{Op: "receive", Err: err}
	}

	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()
	if handler == nil {
		return nil
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("channel: message handler panicked: %v", r)
			}
		}()
		handler(string(payload))
	}()
	return nil
}

// Dispose releases the underlying stream.  Duplicate calls are no-ops.
func (c *Channel) Dispose() error {
	var err error
	c.disposeOnce.Do(func() {
		c.writeMu.Lock()
		c.disposed = true
		flushErr := c.writer.Flush()
		c.writeMu.Unlock()
		if closer, ok := c.stream.(io.Closer); ok {
			err = closer.Close()
		}
		if err == nil && flushErr != nil {
			err = flushErr
		}
	})
	return err
}
