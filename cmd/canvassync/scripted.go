package main

import (
	"context"
	"fmt"
	"strings"

	"canvassync/internal/connection"
	"canvassync/internal/protocol"
)

// scriptedDialer returns a dialer backed by an in-process canned tutor, so
// the full pipeline can be demoed without a running backend.
func scriptedDialer() connection.DialFunc {
	return func(ctx context.Context) (connection.Transport, error) {
		p := connection.NewPipe()
		go scriptLoop(p.Server())
		return p.Client(), nil
	}
}

// scriptLoop plays the backend side of the protocol with canned responses.
func scriptLoop(end *connection.PipeEnd) {
	defer end.Close()
	answered := 0

	for {
		env, err := end.Receive()
		if err != nil {
			return
		}

		switch env.Type {
		case protocol.TypeSessionStart:
			_ = end.Send(protocol.Envelope{
				Type:         protocol.TypeStateUpdate,
				CurrentState: "greeting",
			})
			_ = end.Send(protocol.Envelope{
				Type:    protocol.TypeChatResponse,
				Content: fmt.Sprintf("Welcome to the %s session! Sketch or type a question on the canvas.", env.Domain),
			})

		case protocol.TypeCanvasText, protocol.TypeChatMessage:
			question := env.Text
			if env.Type == protocol.TypeChatMessage {
				question = env.Content
			}
			answered++
			_ = end.Send(protocol.Envelope{
				Type:         protocol.TypeStateUpdate,
				CurrentState: "explaining_concept",
			})
			_ = end.Send(protocol.Envelope{
				Type:    protocol.TypeChatResponse,
				Content: cannedAnswer(question),
			})
			if answered == 3 {
				_ = end.Send(protocol.Envelope{
					Type:  protocol.TypeMilestone,
					Title: "Three questions explored!",
				})
			}

		case protocol.TypeCanvasIdle:
			_ = end.Send(protocol.Envelope{
				Type:    protocol.TypeChatResponse,
				Content: "Still there? Try sketching what you remember about the last concept.",
			})

		case protocol.TypeSessionEnd:
			return
		}
	}
}

func cannedAnswer(question string) string {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "hash"):
		return "A hash table maps keys to values through a hash function. Lookups average O(1); collisions are handled by chaining or probing."
	case strings.Contains(q, "tree"):
		return "A tree is a hierarchy of nodes. Binary search trees keep left < node < right, giving O(log n) lookups when balanced."
	case strings.Contains(q, "graph"):
		return "A graph is a set of vertices connected by edges. Traversal is usually BFS for shortest hops, DFS for structure."
	default:
		return fmt.Sprintf("Interesting question about %q. Break it into the smallest operation you understand, and build up from there.", question)
	}
}
