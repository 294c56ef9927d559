/*
Package security authenticates agenthub consumers.

TokenManager issues random 256-bit access tokens, stores them in the bbolt
token store, and implements the hub's TokenValidator contract:

	tm := security.NewTokenManager(store)
	token, err := tm.GenerateToken("wall-display", 30*24*time.Hour)
	ok := tm.Validate(token.Secret)

Tokens carry an optional expiry. Expired tokens fail validation immediately
and are removed by CleanupExpiredTokens. Producers are not token
authenticated; the hub restricts them to loopback connections instead.
*/
package security
