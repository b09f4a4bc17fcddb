package context

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	MethodKey    = ContextKey("X-Method")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	ActorKey     = ContextKey("X-Actor")
)

func set(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func get(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return set(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return get(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return set(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return get(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return set(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return get(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return set(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return get(ctx, RemoteIPKey)
}

// SetActor records who asserted a change. MANUAL links carry it into events.
func SetActor(ctx context.Context, actor string) context.Context {
	return set(ctx, ActorKey, actor)
}

func GetActor(ctx context.Context) string {
	return get(ctx, ActorKey)
}

// Fields returns the request-scoped values as log fields, skipping empty ones.
func Fields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	for name, key := range map[string]ContextKey{
		"request_id": RequestIDKey,
		"method":     MethodKey,
		"route":      RouteKey,
		"remote_ip":  RemoteIPKey,
		"actor":      ActorKey,
	} {
		if v := get(ctx, key); v != "" {
			fields[name] = v
		}
	}
	return fields
}
