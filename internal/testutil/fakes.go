package testutil

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/gothera/docsign2/internal/channel"
)

// FakeDataChannel is an in-memory events channel. Sent text is recorded; Open,
// RemoteClose and Deliver drive the installed callbacks.
type FakeDataChannel struct {
	mu        sync.Mutex
	state     webrtc.DataChannelState
	sent      []string
	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
}

func NewFakeDataChannel() *FakeDataChannel {
	return &FakeDataChannel{state: webrtc.DataChannelStateConnecting}
}

func (f *FakeDataChannel) OnOpen(fn func()) {
	f.mu.Lock()
	f.onOpen = fn
	f.mu.Unlock()
}

func (f *FakeDataChannel) OnClose(fn func()) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *FakeDataChannel) OnMessage(fn func(webrtc.DataChannelMessage)) {
	f.mu.Lock()
	f.onMessage = fn
	f.mu.Unlock()
}

func (f *FakeDataChannel) SendText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *FakeDataChannel) ReadyState() webrtc.DataChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeDataChannel) Close() error {
	f.mu.Lock()
	f.state = webrtc.DataChannelStateClosed
	f.mu.Unlock()
	return nil
}

func (f *FakeDataChannel) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *FakeDataChannel) Open() {
	f.mu.Lock()
	f.state = webrtc.DataChannelStateOpen
	fn := f.onOpen
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *FakeDataChannel) RemoteClose() {
	f.mu.Lock()
	f.state = webrtc.DataChannelStateClosed
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *FakeDataChannel) Deliver(text string) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn != nil {
		fn(webrtc.DataChannelMessage{IsString: true, Data: []byte(text)})
	}
}

// FakeLink is a negotiated connection backed by a FakeDataChannel.
type FakeLink struct {
	DC *FakeDataChannel

	mu     sync.Mutex
	closed int
}

func NewFakeLink() *FakeLink {
	return &FakeLink{DC: NewFakeDataChannel()}
}

func (l *FakeLink) Events() channel.DataChannel { return l.DC }

func (l *FakeLink) OnDisconnect(func()) {}

func (l *FakeLink) Close() error {
	l.mu.Lock()
	l.closed++
	l.mu.Unlock()
	return nil
}

func (l *FakeLink) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
