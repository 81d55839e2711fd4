package protocol

// This package implements RESP, the Redis serialisation protocol, for the
// client side of a connection: finding frames in a byte stream, decoding
// them into replies, and encoding commands.
//
// === General Syntax
//
// - every frame starts with a one byte type marker
// - lines are `\r\n` delimited
// - blobs and aggregates carry a decimal length/count after the marker
//
//   ```
//     +OK\r\n                       simple string
//     -ERR unknown command\r\n      error
//     :42\r\n                       integer
//     $5\r\nhello\r\n               bulk string
//     $-1\r\n                       null bulk string (RESP2)
//     *2\r\n$3\r\nGET\r\n$1\r\nk\r\n  array
//     *-1\r\n                       null array (RESP2)
//   ```
//
// RESP3, negotiated with `HELLO 3`, adds
//
//   ```
//     _\r\n                         null
//     ,3.14\r\n                     double
//     #t\r\n                        boolean
//     (3492890328409238509324\r\n   big number
//     !21\r\nSYNTAX invalid syntax\r\n blob error
//     =15\r\ntxt:Some string\r\n    verbatim string
//     %1\r\n+key\r\n:1\r\n          map
//     ~2\r\n:1\r\n:2\r\n            set
//     |1\r\n+ttl\r\n:3600\r\n       attribute, metadata for the next frame
//     >3\r\n+message\r\n+chan\r\n+hi\r\n push
//   ```
//
// === Requests and responses
//
// Clients send commands as arrays of bulk strings. RESP has no request IDs:
// the server answers commands strictly in the order it received them, so a
// connection must only ever have its requests and responses paired up in
// order. Pushes are the exception, they can arrive at any point between
// responses and are never an answer to a command. The Scanner marks them
// as out-of-band so the transport can route them elsewhere.
//
// === Frames and payloads
//
// The Scanner hands the transport the full frame length and, on Trim, the
// payload without framing:
//
// - line frames: the text between the marker and CRLF
// - blobs: the body between the length line and the final CRLF
// - aggregates: the still encoded elements, decoded by Decode
//
// The Header returned by Trim travels with the frame so Decode knows what
// the payload is.
//
