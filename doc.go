// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package carrier implements a request-multiplexing protocol gateway.

Clients connect to the Gateway and send frames: a fixed 24 byte header followed by a payload. The header names the service a request is meant for and carries a client chosen sequence number. The Gateway keeps exactly one connection per backend service, loaded from a service table, and forwards every request over it.

Since many clients share one backend connection, client sequence numbers may collide. The Gateway therefore rewrites the sequence number of each forwarded request with a value from its own counter and remembers, in a CorrelationTable, which client connection and which original sequence number it stands for. When the backend replies with that value the Gateway restores the original sequence number and writes the frame to the client that asked.

Frames travel over TCP, TLS or WebSocket (one frame per binary message), chosen independently for the client side and the backend side.

Requests for a service with no registered backend and responses that match no pending request are dropped. Optional settings expire unanswered requests, discard the requests of a lost backend, reply with error frames, and redial lost backends. */
package carrier
