package auth

const (
	ScopeOpenID      = "openid"
	ScopeProfile     = "profile"
	ScopeEmail       = "email"
	ScopeBridgeRead  = "bridge:read"
	ScopeBridgeWrite = "bridge:write"
)

// AllScopes defines the full set of scopes requested by the Swagger UI.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeBridgeRead,
	ScopeBridgeWrite,
}
