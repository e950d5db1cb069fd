// Package ipc implements the request/poll RPC protocol spoken with the compute
// daemon: JSON-RPC over a unix socket or TCP, a nonce-based authorization
// handshake, and typed DTOs for every call.
//
// Client is the consumer side and Server adapts any Backend to the wire.
// Daemon-reported failures surface as *CodeError and leave the channel usable;
// I/O failures surface as *TransportError and close the client.
package ipc
