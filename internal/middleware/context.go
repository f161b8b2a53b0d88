package middleware

import "context"

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserNameKey contextKey = "user_name"
)

// GetUserID возвращает user_id из контекста (устанавливается Identity).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func GetUserName(ctx context.Context) string {
	v, _ := ctx.Value(UserNameKey).(string)
	return v
}

// WithIdentity кладёт действующего пользователя в ctx.
func WithIdentity(ctx context.Context, userID, name string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserNameKey, name)
}
