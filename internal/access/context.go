package access

import "context"

type contextKey struct{}

// NewContext returns a copy of ctx carrying ac.
func NewContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the AuthContext stored by NewContext.
func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}
