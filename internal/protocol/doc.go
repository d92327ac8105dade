// Package protocol implements the filesync wire format.
//
// A client opens a TCP connection and sends one request line:
//
//	<kind>|<fileName>|<knownSize>
//
// where kind is 1 (Download) or 2 (UpdateCheck) and knownSize is the
// decimal size of the client's copy (0 for a download). The server
// answers with exactly one response and closes the connection. A
// response is either a fixed NUL-terminated sentinel ("File not found",
// "NO_UPDATE", "PROTOCOL_ERROR") or an 8-byte big-endian length followed
// by that many payload bytes.
//
// Receivers must try every sentinel before reading a length prefix;
// [ReadResponse] does that.
package protocol
