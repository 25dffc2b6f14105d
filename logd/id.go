package logd

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// a client instance id. Comparable, and encoded as the ulid string.
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	u, err := ulid.ParseStrict(idStr)
	if err != nil {
		return Id{}, err
	}
	return Id(u), nil
}

func (self Id) IsZero() bool {
	return self == Id{}
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

func (self Id) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

func (self *Id) UnmarshalText(src []byte) error {
	id, err := ParseId(string(src))
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", src, err)
	}
	*self = id
	return nil
}
