// Package backend provides the channel-backed backend implementation: a
// proxy that fronts one out-of-process test host and speaks the framed,
// versioned JSON message protocol over its duplex stream.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/testhost/parallax/internal/idgen"
	"github.com/testhost/parallax/model"
	"github.com/testhost/parallax/service/channel"
	"github.com/testhost/parallax/service/pool"
)

// ensure Proxy satisfies the backend contract consumed by the pool
var _ pool.Backend = (*Proxy)(nil)

// protocolVersion is stamped on every outbound message.
const protocolVersion = 1

// Outbound message types.
const (
	messageHostInitialize   = "host.initialize"
	messageRunStart         = "run.start"
	messageRunAbort         = "run.abort"
	messageRunCancel        = "run.cancel"
	messageSessionTerminate = "session.terminate"
)

// Inbound message types.
const (
	messageRunStatsChange = "run.statsChange"
	messageRunComplete    = "run.complete"
	messageHostLog        = "host.log"
)

type message struct {
	ID      string          `json:"id"`
	Version int             `json:"version"`
	Type    string          `json:"messageType"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type runCompletePayload struct {
	Args         *model.RunCompletionArgs `json:"args"`
	LastChunk    *model.RunChangedArgs    `json:"lastChunk,omitempty"`
	Attachments  []model.Attachment       `json:"attachments,omitempty"`
	ExecutorURIs []string                 `json:"executorUris,omitempty"`
}

type hostLogPayload struct {
	Level   model.LogLevel `json:"level"`
	Message string         `json:"message"`
}

type initializePayload struct {
	KeepAlive bool `json:"keepAlive,omitempty"`
}

// Proxy implements the backend contract over a framed message channel.  One
// proxy fronts one test host and executes at most one work unit at a time.
type Proxy struct {
	launcher model.HostLauncher

	mu          sync.Mutex
	channel     *channel.Channel
	initialized bool
	receiver    model.RunEventsReceiver
	keepAlive   bool
}

// New creates a proxy that launches its host through launcher on first use.
func New(launcher model.HostLauncher) *Proxy {
	return &Proxy{launcher: launcher}
}

// NewWithChannel creates a proxy bound to an already established channel.
func NewWithChannel(aChannel *channel.Channel) *Proxy {
	ret := &Proxy{channel: aChannel, initialized: true}
	aChannel.Subscribe(ret.handleMessage)
	go ret.pump(aChannel)
	return ret
}

// Initialize launches the test host and starts the inbound message pump.  A
// launcher supplied here overrides the one the proxy was created with.
func (p *Proxy) Initialize(ctx context.Context, launcher model.HostLauncher) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initializeLocked(ctx, launcher)
}

func (p *Proxy) initializeLocked(ctx context.Context, launcher model.HostLauncher) error {
	if p.initialized {
		return nil
	}
	if launcher == nil {
		launcher = p.launcher
	}
	if launcher == nil {
		return fmt.Errorf("host launcher is required")
	}
	stream, err := launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch test host: %w", err)
	}
	p.channel = channel.New(stream)
	p.channel.Subscribe(p.handleMessage)
	p.initialized = true
	go p.pump(p.channel)
	return p.sendLocked(messageHostInitialize, &initializePayload{KeepAlive: p.keepAlive})
}

// pump drives the channel's one-read-per-call contract until the transport
// goes away.  Running it unconditionally is what surfaces a host-initiated
// close even while no run is active.
func (p *Proxy) pump(aChannel *channel.Channel) {
	for {
		if err := aChannel.NotifyDataAvailable(); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("backend: host channel closed: %v", err)
			}
			return
		}
	}
}

// StartRun sends the single-unit criteria to the host and records receiver
// as the sink for the resulting events.  The host reports completion through
// the channel, which the pump routes back to receiver.
func (p *Proxy) StartRun(ctx context.Context, criteria *model.RunCriteria, receiver model.RunEventsReceiver) error {
	if criteria == nil {
		return fmt.Errorf("run criteria is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keepAlive = criteria.KeepAlive
	if err := p.initializeLocked(ctx, criteria.HostLauncher); err != nil {
		return err
	}
	p.receiver = receiver
	return p.sendLocked(messageRunStart, criteria)
}

// Abort instructs the host to stop the current run immediately.
func (p *Proxy) Abort(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}
	return p.sendLocked(messageRunAbort, nil)
}

// Cancel requests a cooperative stop of the current run.
func (p *Proxy) Cancel(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}
	return p.sendLocked(messageRunCancel, nil)
}

// Dispose asks the host to terminate and releases the channel.
func (p *Proxy) Dispose(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return nil
	}
	// The terminate directive is best effort; the host may already be gone.
	_ = p.sendLocked(messageSessionTerminate, nil)
	err := p.channel.Dispose()
	p.channel = nil
	p.initialized = false
	p.receiver = nil
	return err
}

func (p *Proxy) sendLocked(messageType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %v payload: %w", messageType, err)
		}
		raw = encoded
	}
	encoded, err := json.Marshal(&message{
		ID:      idgen.New(),
		Version: protocolVersion,
		Type:    messageType,
		Payload: raw,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %v message: %w", messageType, err)
	}
	return p.channel.Send(string(encoded))
}

func (p *Proxy) currentReceiver() model.RunEventsReceiver {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receiver
}

func (p *Proxy) handleMessage(raw string) {
	receiver := p.currentReceiver()
	if receiver == nil {
		return
	}
	var decoded message
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		receiver.HandleRawMessage(raw)
		return
	}
	switch decoded.Type {
	case messageRunStatsChange:
		var args model.RunChangedArgs
		if err := json.Unmarshal(decoded.Payload, &args); err != nil {
			log.Printf("backend: malformed stats-change payload: %v", err)
			return
		}
		receiver.HandleRunStatsChange(&args)
	case messageRunComplete:
		var payload runCompletePayload
		if err := json.Unmarshal(decoded.Payload, &payload); err != nil {
			log.Printf("backend: malformed completion payload: %v", err)
			return
		}
		receiver.HandleRunCompletion(payload.Args, payload.LastChunk, payload.Attachments, payload.ExecutorURIs)
	case messageHostLog:
		var payload hostLogPayload
		if err := json.Unmarshal(decoded.Payload, &payload); err != nil {
			log.Printf("backend: malformed log payload: %v", err)
			return
		}
		receiver.HandleLogMessage(payload.Level, payload.Message)
	default:
		receiver.HandleRawMessage(raw)
	}
}
