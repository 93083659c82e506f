package store

import "context"

// Subscriber is one phone number registered to a member of a subscriber group.
type Subscriber struct {
	Number   string `json:"number"`
	Username string `json:"username"`
}

// PhoneBook is the interface consumed by the SMS gateway and the private
// command interpreter. The concrete implementation is *Store (pgx-backed).
type PhoneBook interface {
	LookupPhoneNumbers(ctx context.Context, group string) ([]Subscriber, error)
	SetPhoneNumber(ctx context.Context, username, number string) error
	Close()
}
