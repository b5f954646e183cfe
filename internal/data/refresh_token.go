package data

type RefreshTokens interface {
	// DeleteByUser drops every session-scoped refresh token of the user.
	DeleteByUser(address string) error
}
