package logging

import "log/slog"

// Domain identifiers

func Conversation(id string) slog.Attr {
	return slog.String("conv_id", id)
}

func User(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Connection(id string) slog.Attr {
	return slog.String("conn_id", id)
}

func Message(id string) slog.Attr {
	return slog.String("message_id", id)
}

func Call(id string) slog.Attr {
	return slog.String("call_id", id)
}

func Event(t string) slog.Attr {
	return slog.String("event", t)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}
