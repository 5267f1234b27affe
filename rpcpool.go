// Package rpcpool is a resilient client runtime for request/response calls
// to remote peers that are addressed by public key.
//
// The client package holds the user-facing types: a self-healing connection
// to one remote service, and a pool of such connections keyed by remote
// identity.
package rpcpool

const Version = "0.1.0"
