package graph

import (
	"context"
	"io"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/events"
)

const streamTopic = "graph.events"

// Stream is one invocation's merged event sequence. Node goroutine and
// engine callbacks publish onto a per-invocation gochannel pub/sub; Next
// pulls events back off in arrival order. It satisfies the multiplexer's
// pull-based source contract: a nil error carries an event, io.EOF signals
// clean exhaustion, anything else is the invocation's terminal error.
type Stream struct {
	ch     <-chan *message.Message
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	runErr error
}

// Stream starts the graph and returns its event stream. Consumption stops
// promptly when ctx is cancelled (client disconnect); the runtime holds no
// cross-invocation resources.
func (g *Graph) Stream(ctx context.Context, input string, rc RunConfig) (*Stream, error) {
	s, err := g.prepare(ctx, input, rc)
	if err != nil {
		return nil, err
	}

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NopLogger{})

	ch, err := pubsub.Subscribe(ctx, streamTopic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe graph stream")
	}

	st := &Stream{ch: ch, pubsub: pubsub}

	publish := func(ev events.StreamEvent) {
		b, err := events.MarshalStreamEvent(ev)
		if err != nil {
			log.Warn().Err(err).Msg("graph: failed to encode stream event")
			return
		}
		msg := message.NewMessage(watermill.NewUUID(), b)
		if err := pubsub.Publish(streamTopic, msg); err != nil {
			log.Warn().Err(err).Msg("graph: failed to publish stream event")
		}
	}

	w := &Writer{publish: publish}

	go func() {
		defer func() {
			if err := pubsub.Close(); err != nil {
				log.Warn().Err(err).Msg("graph: failed to close stream pubsub")
			}
		}()

		runErr := g.run(ctx, s, rc, w, func(node string, delta *Delta) {
			publish(events.StateUpdateEvent{Updates: map[string][]chat.Emission{node: delta.Messages}})
		})
		if runErr == nil {
			if err := g.saveState(ctx, rc, s); err != nil {
				log.Error().Err(err).Str("thread_id", rc.ThreadID).Msg("graph: failed to save checkpoint")
			}
		}

		st.mu.Lock()
		st.runErr = runErr
		st.mu.Unlock()
	}()

	return st, nil
}

// Next returns the next event, io.EOF on clean exhaustion, or the
// invocation's terminal error.
func (s *Stream) Next(ctx context.Context) (events.StreamEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.ch:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.runErr != nil {
				return nil, s.runErr
			}
			return nil, io.EOF
		}
		msg.Ack()
		ev, err := events.UnmarshalStreamEvent(msg.Payload)
		if err != nil {
			return nil, errors.Wrap(events.ErrMalformedEvent, err.Error())
		}
		return ev, nil
	}
}

// Close releases the underlying subscription.
func (s *Stream) Close() error {
	return s.pubsub.Close()
}
