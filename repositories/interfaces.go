package repositories

import (
	"context"

	"github.com/upb/grounded-chat/models"
)

// ChatExchangeRepository persists chat exchange audit records
type ChatExchangeRepository interface {
	// Insert inserts a new exchange record
	Insert(ctx context.Context, exchange *models.ChatExchange) error
}
