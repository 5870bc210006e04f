// Package snapserver is a minimal WebSocket server that works directly on
// TCP sockets, without net/http.
//
// A Listener binds one (address, port) pair, accepts connections and hands
// each one to a Session. The Session answers the opening handshake, decodes
// client frames into messages and sends messages back as small unmasked
// fragments. Everything the application sees goes through the callbacks of
// Options.
//
//	l, err := snapserver.NewListener("127.0.0.1", 8080, &snapserver.Options{
//		OnText: func(s *snapserver.Session, text string) {
//			s.SendString(context.TODO(), text)
//		},
//	})
//	if err != nil {
//		return err
//	}
//	go l.Start(ctx)
//
// # Endpoints
//
// Listeners sharing a Registry (DefaultRegistry unless Options.Registry is
// set) never bind the same endpoint twice: the second Listen fails with
// ErrEndpointBusy.
//
// # Limits
//
// Only the 7-bit and 16-bit payload length forms are accepted; a 64-bit
// length fails with ErrLengthNotImplemented. Client frames must be masked.
// Close frames end the session, ping and pong frames are ignored and never
// answered. Subprotocols and extensions are not negotiated.
package snapserver
