// Package transport provides the framed TCP connection consumed by the
// BGP session engine: cooperative non-blocking reads and writes, header
// validation, and RFC 2385 TCP MD5 / GTSM socket options.
package transport
