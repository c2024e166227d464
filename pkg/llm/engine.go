package llm

import (
	"context"

	"github.com/stylemuse/stylemuse/pkg/chat"
	"github.com/stylemuse/stylemuse/pkg/graph"
)

// Engine runs one model generation over the transcript so far. Streaming
// engines forward incremental chunks through the writer while the call is
// underway; the returned message is the completed turn.
type Engine interface {
	Generate(ctx context.Context, model string, msgs []*chat.NodeMessage, w *graph.Writer, tags ...string) (*chat.NodeMessage, error)
}
