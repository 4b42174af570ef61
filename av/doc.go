// Package av implements the client side of a voice gateway session.
//
// A voice session pairs two channels: a JSON signaling connection over
// WebSocket that carries the handshake, heartbeats and speaking updates, and
// a UDP media channel that carries RTP framed audio sealed with NaCl
// secretbox. The Manager enforces at most one Connection per room.
//
// Example:
//
//	mgr := av.NewManager(av.DefaultOptions(), resolver)
//	conn, err := mgr.Establish(ctx, identity, server)
//	if err != nil {
//	    return err
//	}
//	conn.OnEvent(func(ev av.Event) {
//	    log.Printf("voice event: %s", ev.Kind)
//	})
//	if err := conn.WaitReady(ctx); err != nil {
//	    return err
//	}
//	_, err = conn.SendAudio(opusFrame)
//
// Connections recover from transient signaling failures by reopening the
// gateway and resuming the session; close codes that invalidate the session
// tear it down instead. See ClassifyClose.
package av
