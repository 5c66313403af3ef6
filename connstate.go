// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package carrier

import (
	"strconv"
	"sync/atomic"
)

// connState is the position of a connection's read loop.
//
// A frontend cycles Accepted, Handshake, AwaitFrame, Routing and back to
// AwaitFrame. A backend cycles Connecting, Handshake, AwaitFrame, Routing,
// Forwarding and back to AwaitFrame. Both end in Closed. AwaitFrame covers
// reading the header and then its payload, since a FrameConn always
// delivers whole frames. Writes run independently in the outbox.
type connState int32

const (
	stateAccepted   = connState(0)
	stateConnecting = connState(1)
	stateHandshake  = connState(2)
	stateAwaitFrame = connState(3)
	stateRouting    = connState(4)
	stateForwarding = connState(5)
	stateClosed     = connState(6)
)

var connStateTexts = map[connState]string{
	stateAccepted:   "ACCEPT",
	stateConnecting: "CONN  ",
	stateHandshake:  "HSHAKE",
	stateAwaitFrame: "AWAIT ",
	stateRouting:    "ROUTE ",
	stateForwarding: "FWD   ",
	stateClosed:     "CLOSED",
}

func (cs connState) String() string {
	if s, ok := connStateTexts[cs]; ok {
		return s
	}
	return strconv.FormatInt(int64(cs), 10)
}

// stateVar is an atomically accessed connState, so String() methods
// can print it without races.
type stateVar struct {
	v int32
}

// set changes the state unless it is already stateClosed.
func (sv *stateVar) set(cs connState) {
	for {
		cur := atomic.LoadInt32(&sv.v)
		if connState(cur) == stateClosed {
			return
		}
		if atomic.CompareAndSwapInt32(&sv.v, cur, int32(cs)) {
			return
		}
	}
}

func (sv *stateVar) get() connState {
	return connState(atomic.LoadInt32(&sv.v))
}

// closing moves to stateClosed and returns true if it was not already closed.
func (sv *stateVar) closing() bool {
	for {
		cur := atomic.LoadInt32(&sv.v)
		if connState(cur) == stateClosed {
			return false
		}
		if atomic.CompareAndSwapInt32(&sv.v, cur, int32(stateClosed)) {
			return true
		}
	}
}
