/*
Package client provides Go clients for the agenthub WebSocket endpoints.

A Producer reports an agent's activity:

	p, err := client.DialProducer(ctx, "ws://127.0.0.1:7420/producer")
	id, err := p.Register(ctx, types.Instance{Name: "laptop", AppName: "editor"})
	err = p.StartSession(types.Session{ID: "sess-1", Title: "Refactor parser"})
	err = p.SendEvent(types.TranscriptEventInput{SessionID: "sess-1", Type: types.EventTypeMessage})

A Consumer watches the hub:

	c, err := client.DialConsumer(ctx, "ws://127.0.0.1:7420/ws", token)
	err = c.Subscribe()
	for {
		msg, err := c.Next(ctx)
		...
	}

Connections are safe for one reader and any number of concurrent writers.
*/
package client
