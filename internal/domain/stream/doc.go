// Package stream routes captured media and input between transport
// channels and rooms.
//
// A room is either an application instance id or the live desktop. Each
// connected channel is subscribed to at most one room at a time, has its
// own bounded queue and writer goroutine, and is evicted when the queue
// overflows or a send fails. Routing state is owned by the hub's loop.
//
// Rules:
//   - Subscribers of a room receive published messages in publish order
//   - A slow or broken channel never delays the others
//   - Input is forwarded only to the sink registered for the channel's
//     room, after the caller's authorizer accepts it
//   - CloseRoom drops every subscriber and the room's input sink
//
// Example Usage:
//
//	hub := stream.NewHub(stream.Config{QueueSize: 16}, nil, logger)
//	err := hub.Connect(ctx, conn)
//	cfg, err := hub.Subscribe(ctx, conn.ID(), instanceID)
//	n, err := hub.Publish(ctx, instanceID, frame)
package stream
