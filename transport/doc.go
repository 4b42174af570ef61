// Package transport provides the two network channels used by a voice
// connection.
//
// # Signaling
//
// SignalConn is a WebSocket client carrying JSON control messages. It is
// event driven: DialSignal returns immediately and the caller learns about
// the connection through a SignalHandler:
//
//	conn := transport.DialSignal(ctx, transport.SignalConfig{URL: url}, handler)
//	// handler.OnOpen, OnMessage, OnClose and OnError fire from the read loop
//	_ = conn.Send(map[string]any{"op": 3, "d": 1700000000000})
//	conn.Close(websocket.CloseNormalClosure, "")
//
// Messages are delivered in arrival order from a single goroutine. Once Close
// has been called no further callbacks fire.
//
// # Media
//
// MediaConn is a UDP socket bound to one remote endpoint. Write sends one
// datagram; inbound datagrams are dispatched to the registered
// DatagramHandler from a background read loop.
//
//	media, err := transport.NewMediaConn("203.0.113.7", 50004)
//	media.RegisterHandler(func(data []byte, addr net.Addr) { ... })
//	media.Write(datagram)
//	media.Close()
package transport
