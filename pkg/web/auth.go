package web

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
)

const tenantLocalKey = "tenant_id"

// TenantResolver maps API bearer tokens to tenant IDs. Tokens come from the
// --tenant-tokens flag as "token:tenant" pairs.
type TenantResolver struct {
	tokens map[string]string
}

// NewTenantResolver parses a comma-separated "token:tenant" list.
func NewTenantResolver(spec string) (*TenantResolver, error) {
	tokens := make(map[string]string)

	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		token, tenant, found := strings.Cut(pair, ":")
		if !found || token == "" || tenant == "" {
			return nil, fmt.Errorf("malformed tenant token entry %q", pair)
		}

		tokens[token] = tenant
	}

	return &TenantResolver{tokens: tokens}, nil
}

// Resolve returns the tenant for a bearer token.
func (r *TenantResolver) Resolve(token string) (string, bool) {
	tenant, ok := r.tokens[token]

	return tenant, ok
}

// Middleware authenticates requests and stores the resolved tenant in the
// request locals. Requests without a valid bearer token get 401.
func (r *TenantResolver) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")

		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			return unauthorized(c, "missing bearer token")
		}

		tenant, ok := r.Resolve(token)
		if !ok {
			return unauthorized(c, "unknown bearer token")
		}

		c.Locals(tenantLocalKey, tenant)

		return c.Next()
	}
}

// tenantID reads the tenant resolved by the auth middleware.
func tenantID(c fiber.Ctx) string {
	tenant, _ := c.Locals(tenantLocalKey).(string)

	return tenant
}
