// Package contacts resolves display names from a user's address book.
package contacts

import "context"

type Repository interface {
	FindName(ctx context.Context, userID, phoneNumber string) (string, error)
}
