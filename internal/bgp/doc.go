// Package bgp implements the per-session BGP-4 protocol engine (RFC 4271).
//
// This includes the message codec, OPEN negotiation, the outbound chunker,
// and the notification error taxonomy.
package bgp
