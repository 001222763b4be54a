package handlers

import (
	"net/http"

	"github.com/coachdeck/coachdeck/internal/handlers/middleware"
	"github.com/coachdeck/coachdeck/internal/logger"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(authHandler *AuthHandler, l logger.Logger) http.Handler {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	authMiddleware := middleware.AuthMiddleware(authHandler.authService)
	withAuth := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}

	apiauth := http.NewServeMux()
	apiauth.Handle("/", authHandler.Handler())
	apiauth.Handle("GET /me", withAuth(authHandler.me))
	apiauth.Handle("POST /password", withAuth(authHandler.changePassword))

	root := http.NewServeMux()
	root.Handle("/auth/", http.StripPrefix("/auth", apiauth))

	handler := chain(root,
		middleware.LoggerMiddleware(l),
	)

	return handler
}
