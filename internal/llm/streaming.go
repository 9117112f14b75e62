package llm

import "context"

// TextHandler receives assistant text deltas as they arrive.
// Returning an error aborts the stream; the error is returned by StreamMessage.
type TextHandler func(delta string) error

// StreamingProvider extends Provider with incremental output.
// Providers that don't stream can be wrapped with NonStreamingAdapter.
type StreamingProvider interface {
	Provider
	// StreamMessage sends a request, forwards text deltas to onText in order
	// and returns the fully assembled response (including tool_use blocks)
	// once the model finishes its turn. Cancelling ctx aborts the upstream call.
	StreamMessage(ctx context.Context, req *Request, onText TextHandler) (*Response, error)
}

// NonStreamingAdapter wraps a Provider and emits the whole text of each
// model turn as a single chunk.
type NonStreamingAdapter struct {
	Provider
}

// StreamMessage calls SendMessage and forwards the buffered text once.
func (a *NonStreamingAdapter) StreamMessage(ctx context.Context, req *Request, onText TextHandler) (*Response, error) {
	resp, err := a.SendMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" && onText != nil {
		if err := onText(resp.Content); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// AsStreaming returns p itself when it already streams, or wraps it.
func AsStreaming(p Provider) StreamingProvider {
	if sp, ok := p.(StreamingProvider); ok {
		return sp
	}
	return &NonStreamingAdapter{Provider: p}
}
