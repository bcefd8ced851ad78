package principals

import (
	"errors"
	"time"
)

// Principal represents a manufacturer/principal whose products hospitals
// order through purchase orders.
type Principal struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrNotFound indicates the principal does not exist.
var ErrNotFound = errors.New("principals: not found")
