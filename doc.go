// Package umqtt is a minimal polling MQTT 3.1.1 client.
//
// The client runs entirely on the caller's goroutine: there is no
// background reader and no automatic keep-alive. The application drives
// it from its own loop with Poll or PollNonBlocking, which read one packet,
// deliver it and reconnect when the transport fails.
//
// # Features
//
//   - MQTT 3.1.1 (protocol level 4) packets: CONNECT, CONNACK, PUBLISH,
//     PUBACK, SUBSCRIBE, SUBACK, PINGREQ, PINGRESP, DISCONNECT
//   - QoS 0 and QoS 1 in both directions; QoS 2 is rejected
//   - Reconnect supervisor with strictly increasing delays, unlimited by default
//   - Subscription restore when the broker lost the session
//   - Transport: TCP, TLS, WebSocket, WSS, QUIC, Unix sockets, HTTP/SOCKS5 proxies
//
// # Client
//
//	client := umqtt.NewClient(
//	    umqtt.WithClientID("sensor-1"),
//	    umqtt.WithKeepAlive(60),
//	    umqtt.WithAckTimeout(5*time.Second),
//	)
//	client.SetMessageListener(func(msg *umqtt.Message) {
//	    fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	})
//
//	if err := client.Begin(ctx, "tcp://localhost:1883"); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	if _, err := client.Subscribe(ctx, "sensors/+/cmd", umqtt.QoS1); err != nil {
//	    return err
//	}
//
//	for {
//	    if _, err := client.PollNonBlocking(ctx); err != nil {
//	        log.Print(err)
//	    }
//	    if err := client.KeepAlive(ctx); err != nil {
//	        log.Print(err)
//	    }
//	    // application work
//	}
//
// Publish with QoS 1 and Subscribe block until their acknowledgment
// arrives. Packets read meanwhile are dispatched as Poll would.
//
// # Addresses
//
// Begin accepts "host", "host:port" or "scheme://host[:port][/path]":
//
//	tcp://  mqtt://             plain TCP, port 1883
//	tls://  ssl://  mqtts://    TLS, port 8883
//	ws://   wss://              WebSocket, ports 80 and 443
//	quic://                     QUIC, port 8883
//	unix:///path/to/socket      Unix domain socket
//
// # Errors
//
// Errors are classified with sentinels for errors.Is and typed errors for
// errors.As:
//
//	var cerr *umqtt.ConnectError
//	switch {
//	case errors.Is(err, umqtt.ErrAuthFailed):
//	    // bad credentials or not authorized
//	case errors.As(err, &cerr):
//	    log.Printf("rejected: %s", cerr.ReturnCode)
//	case errors.Is(err, umqtt.ErrUnsupportedFeature):
//	    // QoS 2
//	}
//
// Lifecycle events (connected, connection lost, reconnecting) are errors
// passed to the OnEvent handler.
//
// # Codec
//
// The packet types can be used without the client:
//
//	pkt, n, err := umqtt.ReadPacket(conn, maxPacketSize)
//	n, err := umqtt.WritePacket(conn, packet, maxPacketSize)
package umqtt
