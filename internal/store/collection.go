package store

import "fmt"

// Collection identifies one of the three logical channel groupings. A channel
// lives in exactly one collection at a time.
type Collection int

const (
	Active Collection = iota
	Archived
	Blacklisted
)

// Collections lists every collection in a stable order.
var Collections = [...]Collection{Active, Archived, Blacklisted}

func (c Collection) String() string {
	switch c {
	case Active:
		return "active"
	case Archived:
		return "archived"
	case Blacklisted:
		return "blacklisted"
	}
	return fmt.Sprintf("Collection(%d)", int(c))
}

// table maps a collection to its backing table. The switch is exhaustive so
// adding a collection without a table fails to compile at call sites relying
// on String/table symmetry.
func (c Collection) table() string {
	switch c {
	case Active:
		return "channels_active"
	case Archived:
		return "channels_archived"
	case Blacklisted:
		return "channels_blacklisted"
	}
	panic("store: unknown collection " + c.String())
}

// ParseCollection maps a bundle collection name back to its Collection.
func ParseCollection(name string) (Collection, error) {
	switch name {
	case "active":
		return Active, nil
	case "archived":
		return Archived, nil
	case "blacklisted":
		return Blacklisted, nil
	}
	return 0, fmt.Errorf("unknown channel collection: %q", name)
}
