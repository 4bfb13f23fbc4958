// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch_test

import (
	"errors"

	"code.hybscloud.com/msgbus"
)

// recordingTransport is a minimal bus.Transport double that records sent
// messages, for exercising dispatch.Services and dispatch.Router without a
// real byte transport.
type recordingTransport struct {
	connected bool
	tokens    int
	sent      []*bus.Message
}

func newRecordingTransport(reservations int) *recordingTransport {
	return &recordingTransport{connected: true, tokens: reservations}
}

func (r *recordingTransport) IsConnected() bool { return r.connected }
func (r *recordingTransport) SetWatchFunctions(add func(bus.Watch) error, remove func(bus.Watch)) {
}
func (r *recordingTransport) HandleWatch(w bus.Watch, condition bus.WatchCondition) {}
func (r *recordingTransport) DispatchMessage() bool                                { return false }

func (r *recordingTransport) PreallocateSend() (any, error) {
	if r.tokens <= 0 {
		return nil, errors.New("recordingTransport: exhausted")
	}
	r.tokens--
	return new(int), nil
}

func (r *recordingTransport) SendPreallocated(token any, msg *bus.Message) error {
	r.tokens++
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) FreePreallocated(token any) { r.tokens++ }
func (r *recordingTransport) Disconnect()                { r.connected = false }
