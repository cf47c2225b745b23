package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/port"
	"github.com/berfenger/energylive2mqtt/pkg/energylive"
)

type fakeAPI struct {
	mu         sync.Mutex
	devices    []energylive.DeviceDescriptor
	devicesErr error
	details    map[string]energylive.DeviceDetails
	detailsErr error
	channels   map[string][]string

	listCalls    int
	detailCalls  int
	channelCalls int
	opens        []time.Time

	// one entry is consumed per OpenLiveStream call
	streams chan openResult
	opened  []*fakeStream

	// when set, ListDevices waits for it to be closed
	listGate chan struct{}
}

type openResult struct {
	lines []string
	err   error // returned by OpenLiveStream
	end   error // returned by Next once lines are exhausted, nil blocks
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		details:  make(map[string]energylive.DeviceDetails),
		channels: make(map[string][]string),
		streams:  make(chan openResult, 16),
	}
}

func (f *fakeAPI) ListDevices(ctx context.Context) ([]energylive.DeviceDescriptor, error) {
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	return f.devices, nil
}

func (f *fakeAPI) GetDeviceDetails(ctx context.Context, id string) (energylive.DeviceDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if f.detailsErr != nil {
		return energylive.DeviceDetails{}, f.detailsErr
	}
	return f.details[id], nil
}

func (f *fakeAPI) ListMeasurements(ctx context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelCalls++
	return f.channels[id], nil
}

func (f *fakeAPI) OpenLiveStream(ctx context.Context, id string) (port.LineStream, error) {
	f.mu.Lock()
	f.opens = append(f.opens, time.Now())
	f.mu.Unlock()

	select {
	case r := <-f.streams:
		if r.err != nil {
			return nil, r.err
		}
		stream := newFakeStream(ctx, r.lines, r.end)
		f.mu.Lock()
		f.opened = append(f.opened, stream)
		f.mu.Unlock()
		return stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeAPI) openTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.opens...)
}

func (f *fakeAPI) openedStreams() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.opened...)
}

func (f *fakeAPI) calls() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.detailCalls, f.channelCalls
}

type fakeStream struct {
	ctx    context.Context
	lines  []string
	end    error
	closed atomic.Bool
}

func newFakeStream(ctx context.Context, lines []string, end error) *fakeStream {
	return &fakeStream{ctx: ctx, lines: lines, end: end}
}

func (s *fakeStream) Next() (string, error) {
	if len(s.lines) > 0 {
		line := s.lines[0]
		s.lines = s.lines[1:]
		return line, nil
	}
	if s.end != nil {
		return "", s.end
	}
	<-s.ctx.Done()
	return "", s.ctx.Err()
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type countingReauth struct {
	n atomic.Int32
}

func (r *countingReauth) RequestReauth() {
	r.n.Add(1)
}

type countingObserver struct {
	n atomic.Int32
}

func (o *countingObserver) MeasurementUpdated() {
	o.n.Add(1)
}

type panickingObserver struct{}

func (o *panickingObserver) MeasurementUpdated() {
	panic("observer exploded")
}
