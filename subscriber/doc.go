// Package subscriber is the client side of a livestore change stream.
//
// [Client] holds a websocket subscription open across reconnects and routes
// incoming events to per-topic callbacks:
//
//	c := subscriber.NewClient("ws://localhost:3001/api/ws")
//	stop := c.Subscribe("users", func(ev subscriber.Event) {
//		log.Println(ev.Type, ev.Seq)
//	})
//	defer stop()
//	go c.Run(ctx)
//
// Events that happen while disconnected are lost. [Fetcher] re-reads the full
// state over HTTP when a caller needs it outside the INITIAL event.
package subscriber
