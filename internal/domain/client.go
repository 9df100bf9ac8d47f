package domain

import (
	"context"
	"time"
)

// Client owns accounts. The ledger never mutates it.
type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type ClientRepository interface {
	CreateClient(ctx context.Context, client *Client) error
	// GetClientForUpdate locks the client until the enclosing unit of work
	// ends. Account creation for one client is serialized on this lock.
	GetClientForUpdate(ctx context.Context, id int64) (*Client, error)
}
