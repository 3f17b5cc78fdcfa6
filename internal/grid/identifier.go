package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// IdentifierKind discriminates the two ways a caller can name a row.
type IdentifierKind int

const (
	kindInvalid IdentifierKind = iota
	KindOrdinal
	KindContentKey
)

func (k IdentifierKind) String() string {
	switch k {
	case KindOrdinal:
		return "ordinal"
	case KindContentKey:
		return "key"
	default:
		return "invalid"
	}
}

// Identifier names a row either by its 1-based display position or by the
// value of the key column. The zero value is invalid.
type Identifier struct {
	kind    IdentifierKind
	ordinal int
	key     string
}

// Ordinal identifies the n-th data row as shown to the user (1-based).
func Ordinal(n int) Identifier {
	return Identifier{kind: KindOrdinal, ordinal: n}
}

// ContentKey identifies the first row whose key column equals key.
func ContentKey(key string) Identifier {
	return Identifier{kind: KindContentKey, key: strings.TrimSpace(key)}
}

// ParseIdentifier builds an Identifier from transport input. The kind must be
// explicit: "ordinal" or "key".
func ParseIdentifier(kind, raw string) (Identifier, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "ordinal":
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Identifier{}, fmt.Errorf("invalid ordinal %q", raw)
		}
		return Ordinal(n), nil
	case "key":
		if strings.TrimSpace(raw) == "" {
			return Identifier{}, fmt.Errorf("empty content key")
		}
		return ContentKey(raw), nil
	}
	return Identifier{}, fmt.Errorf("unknown identifier kind %q", kind)
}

func (id Identifier) Kind() IdentifierKind { return id.kind }

// OrdinalValue returns the ordinal and whether id is an ordinal.
func (id Identifier) OrdinalValue() (int, bool) {
	return id.ordinal, id.kind == KindOrdinal
}

// KeyValue returns the content key and whether id is a content key.
func (id Identifier) KeyValue() (string, bool) {
	return id.key, id.kind == KindContentKey
}

func (id Identifier) IsValid() bool { return id.kind != kindInvalid }

func (id Identifier) String() string {
	switch id.kind {
	case KindOrdinal:
		return "ordinal:" + strconv.Itoa(id.ordinal)
	case KindContentKey:
		return "key:" + id.key
	default:
		return "invalid"
	}
}
