package telegraph

import "context"

// StreamSink lets a stream.Aggregator write through an Adapter.
type StreamSink struct {
	Adapter Adapter
}

func modeOf(rich bool) RenderMode {
	if rich {
		return RenderRich
	}
	return RenderPlain
}

func (s StreamSink) SendMessage(ctx context.Context, chatID int64, text string, rich bool) (int64, error) {
	return s.Adapter.Send(ctx, OutboundMessage{ChatID: chatID, Text: text, Mode: modeOf(rich)})
}

func (s StreamSink) EditMessage(ctx context.Context, chatID, messageID int64, text string, rich bool) error {
	return s.Adapter.Edit(ctx, chatID, messageID, text, modeOf(rich))
}
