package auth

import (
	"context"

	"github.com/coachdeck/coachdeck/internal/logger"
	"github.com/coachdeck/coachdeck/internal/models"
)

// Notifier that only writes a log line
// Stands in until a real mail delivery is wired up
type logNotifier struct {
	logger logger.Logger
}

func (n logNotifier) PasswordChanged(_ context.Context, user models.User) error {
	n.logger.Info("password changed", "user_id", user.ID, "email", user.Email)
	return nil
}
