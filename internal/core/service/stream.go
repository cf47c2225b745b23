package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/port"
	"github.com/berfenger/energylive2mqtt/pkg/energylive"

	"go.uber.org/zap"
)

type streamOutcome int

const (
	reconnectNow streamOutcome = iota
	reconnectAfterCooldown
	stopStreaming
)

// Start runs the live stream loop of the device in its own goroutine. Only
// the first call has an effect.
func (d *Device) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		d.mu.Lock()
		d.cancel = cancel
		d.done = done
		d.mu.Unlock()
		go d.run(loopCtx, done)
	})
}

// Stop cancels the loop wherever it is suspended and waits for it to exit.
// A device stopped before it was started never starts.
func (d *Device) Stop() {
	d.startOnce.Do(func() {})
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Device) StreamState() port.StreamState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) setState(state port.StreamState) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
	d.hub.metrics.StateChanged(d.id, state)
}

func (d *Device) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer d.setState(port.StreamStopped)

	d.logger.Debug("stream: loop started")
	for ctx.Err() == nil {
		switch d.streamOnce(ctx) {
		case stopStreaming:
			d.logger.Debug("stream: loop stopped")
			return
		case reconnectNow:
			d.hub.metrics.Reconnect(d.id, 0)
		case reconnectAfterCooldown:
			d.setState(port.StreamCooldown)
			d.hub.metrics.Reconnect(d.id, d.hub.cooldown)
			timer := time.NewTimer(d.hub.cooldown)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (d *Device) streamOnce(ctx context.Context) streamOutcome {
	d.setState(port.StreamConnecting)
	stream, err := d.hub.api.OpenLiveStream(ctx, d.id)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return stopStreaming
		case errors.Is(err, energylive.ErrForbidden):
			d.logger.Warn("stream: live stream rejected, stopping")
			d.hub.requestReauth()
			return stopStreaming
		default:
			d.logger.Warn("stream: could not open live stream", zap.Error(err), zap.Duration("cooldown", d.hub.cooldown))
			return reconnectAfterCooldown
		}
	}
	defer func() {
		d.setState(port.StreamClosing)
		stream.Close()
	}()

	d.setState(port.StreamStreaming)
	for {
		line, err := stream.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return stopStreaming
			case energylive.IsDisconnect(err):
				d.logger.Debug("stream: disconnected, reconnecting", zap.Error(err))
				return reconnectNow
			default:
				d.logger.Warn("stream: live stream failed", zap.Error(err), zap.Duration("cooldown", d.hub.cooldown))
				return reconnectAfterCooldown
			}
		}
		d.processLine(line)
	}
}

// processLine applies one stream line. Malformed records are dropped without
// logging; the upstream sends them regularly.
func (d *Device) processLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	rec, err := energylive.ParseRecord(line)
	if err != nil {
		d.hub.metrics.RecordDiscarded(d.id)
		return
	}
	d.ApplyUpdate(rec.Measurement, rec.Value)
	d.hub.metrics.RecordParsed(d.id, rec.Measurement, rec.Value)
}
