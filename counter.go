// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// SizeCounter is a resource accounting hook a Message can be charged against
// while alive and credited back on release. Message.AddSizeCounter attaches
// one to an existing message to track outbound-buffer pressure; it is
// deliberately minimal so a process-wide budget and a per-connection budget
// can both implement it without depending on each other's shape.
type SizeCounter interface {
	// Charge accounts n additional bytes as in-flight. It returns an error
	// (always wrapping ErrNoMemory) if the counter refuses the charge; the
	// caller must not treat the bytes as charged in that case.
	Charge(n int) error

	// Credit releases n bytes previously charged. Credit must never fail;
	// callers rely on it to unwind a message's lifetime unconditionally.
	Credit(n int)
}

// nopCounter is the zero-value SizeCounter: it never refuses a charge.
// Messages that are never attached to a real counter (e.g. ones built purely
// for in-process tests) use this so AddSizeCounter's contract still holds.
type nopCounter struct{}

func (nopCounter) Charge(int) error { return nil }
func (nopCounter) Credit(int)       {}
