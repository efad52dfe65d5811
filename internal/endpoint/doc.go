// Package endpoint owns the two sides of a flexpipe channel.
//
// Ownership boundary:
// - producer loop: input -> encode -> send -> await replies -> report
//
// - transformer loop: receive -> dispatch by type -> mutate -> re-encode -> send
//
// Both loops are sequential and own their Conn. Frames are handled strictly in
// stream order.
//
// Lifecycle:
// - the producer closes its write side when input ends
//
// - the transformer sees end of stream, closes both ends and returns nil
//
// - a frame with an unknown type is dropped by the transformer without a reply;
// the producer bounds every reply wait with a read timeout instead of hanging
package endpoint
