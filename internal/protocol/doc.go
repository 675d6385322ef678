// Package protocol owns the MC command record and its codec.
//
// Ownership boundary:
// - 64-byte command record (header word + seven parameter words)
// - opcode table and per-opcode parameter layouts
// - closed request/response variant set used by the client and the simulator
//
// Every multi-byte field is little-endian. The codec only knows byte
// layout; semantic validation belongs to the calling component.
package protocol
