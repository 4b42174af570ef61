// Package rtp frames and seals encoded audio for the voice media channel.
//
// Each outgoing frame becomes one UDP datagram:
//
//	+------+------+----------+-----------+--------+------------------------+
//	| 0x80 | 0x78 | seq (16) | ts (32)   | ssrc   | secretbox(opus) + tag  |
//	+------+------+----------+-----------+--------+------------------------+
//	|<------------------ 12-byte RTP header ----------------->|
//
// The header is built with the pion/rtp library (version 2, payload type
// 0x78). The sequence number wraps at 2^16 and the timestamp advances by one
// 20 ms frame at 48 kHz (960 samples) per packet, wrapping at 2^32. The
// secretbox nonce is the header itself padded with zeros to 24 bytes, so no
// nonce repeats while the (sequence, timestamp) pair does not repeat for a
// given key.
//
// # Components
//
//   - AudioPacketizer: counters, header and nonce scratch, sealing
//   - Depacketize: inverse operation for received datagrams
//   - Session: one media stream bound to a PacketWriter and a session key,
//     with statistics
//
// # Thread Safety
//
// AudioPacketizer and Session serialize their own state with a mutex.
// Session.SendAudio holds its lock across the datagram write, so concurrent
// callers are queued and never interleave counter updates.
package rtp
