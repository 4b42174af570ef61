// Package crypto implements the symmetric authenticated encryption used on
// the voice media channel.
//
// Every audio datagram is sealed with NaCl secretbox (XSalsa20-Poly1305)
// under the 32-byte key delivered by the voice gateway's session
// description. The 24-byte nonce is derived from the 12-byte RTP header of
// the datagram, right-padded with zeros:
//
//	key, _ := crypto.NewKey(secret)
//	var nonce crypto.Nonce
//	nonce.SetPrefix(header)
//	sealed, _ := crypto.Seal(header, opusFrame, &nonce, &key)
//
// Keys are owned by a single voice connection and should be erased with
// [WipeKey] once the connection is torn down.
package crypto
