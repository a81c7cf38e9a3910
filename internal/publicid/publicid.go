// Package publicid converts internal device UUIDs to the short opaque ids
// exposed to clients and back.
package publicid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/speps/go-hashids/v2"
)

var ErrInvalidID = errors.New("invalid public id")

type Codec struct {
	h *hashids.HashID
}

func New(salt string, minLength int) (*Codec, error) {
	data := hashids.NewData()
	data.Salt = salt
	data.MinLength = minLength
	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("hashids: %w", err)
	}
	return &Codec{h: h}, nil
}

// Encode hashes the hex digits of a UUID. Values that are not UUIDs are
// returned unchanged.
func (c *Codec) Encode(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	out, err := c.h.EncodeHex(strings.ReplaceAll(u.String(), "-", ""))
	if err != nil {
		return id
	}
	return out
}

func (c *Codec) Decode(public string) (string, error) {
	hex, err := c.h.DecodeHex(public)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	u, err := uuid.Parse(hex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return u.String(), nil
}
