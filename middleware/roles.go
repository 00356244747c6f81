package middleware

import (
	"net/http"

	"github.com/MrEthical07/hybridAuth/account"
)

// RequireUser admits any active account.
func RequireUser(engine Authorizer) func(http.Handler) http.Handler {
	return Guard(engine, account.RoleUser)
}

func RequireViewer(engine Authorizer) func(http.Handler) http.Handler {
	return Guard(engine, account.RoleViewer)
}

func RequireAdmin(engine Authorizer) func(http.Handler) http.Handler {
	return Guard(engine, account.RoleAdmin)
}

func RequireSuperadmin(engine Authorizer) func(http.Handler) http.Handler {
	return Guard(engine, account.RoleSuperadmin)
}
