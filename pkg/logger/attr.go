package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Tenant records the channel-qualified tenant key under the key "tenant".
// If key is empty, it returns an empty Attr.
func Tenant(key string) slog.Attr {
	if key == "" {
		return slog.Attr{}
	}
	return slog.String("tenant", key)
}

// Channel records the billing channel under the key "channel".
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// OrderID records the vendor order identifier under the key "order_id".
// If id is empty, it returns an empty Attr.
func OrderID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("order_id", id)
}

// PlanID records the resolved plan under the key "plan_id".
func PlanID(id string) slog.Attr {
	return slog.String("plan_id", id)
}

// EventKind records the normalized event kind under the key "event_kind".
func EventKind(kind string) slog.Attr {
	return slog.String("event_kind", kind)
}

// RequestID records the request identifier under the key "request_id".
// If id is nil, it returns an empty Attr.
func RequestID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("request_id", id)
}

// Deadline records a subscription deadline under the key "deadline".
// A nil deadline is logged as "none".
func Deadline(t *time.Time) slog.Attr {
	if t == nil {
		return slog.String("deadline", "none")
	}
	return slog.Time("deadline", *t)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
