package auth

import "context"

// apiKeyKey is a private type for the API key context key.
type apiKeyKey struct{}

// SetAPIKey stores the caller's verified API key in the context.
func SetAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyKey{}, key)
}

// APIKeyFromContext retrieves the verified API key.
// Returns "" if the request was not authenticated by Middleware.
func APIKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(apiKeyKey{}).(string); ok {
		return v
	}
	return ""
}
