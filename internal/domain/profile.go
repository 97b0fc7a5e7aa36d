package domain

import (
	"fmt"
	"strings"
	"time"
)

// ListKind selects one of a profile's two lists.
type ListKind string

const (
	Whitelist ListKind = "whitelist"
	Blacklist ListKind = "blacklist"
)

// ParseListKind accepts "whitelist"/"white" and "blacklist"/"black".
func ParseListKind(s string) (ListKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "whitelist", "white", "white_list":
		return Whitelist, nil
	case "blacklist", "black", "black_list":
		return Blacklist, nil
	default:
		return "", fmt.Errorf("unknown list kind %q", s)
	}
}

// ProfileList is one side of a viewer's profile.
type ProfileList struct {
	// Text is the whitespace-separated keyword string.
	Text string

	// URLs are pages whose text contributed to Vector.
	URLs []string

	// Vector is the combined embedding. Nil when the list carries no signal.
	Vector Vector
}

// Keywords returns the lowercase keyword set of the list.
func (l ProfileList) Keywords() map[string]struct{} {
	fields := strings.Fields(strings.ToLower(l.Text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Profile holds a viewer's whitelist and blacklist.
type Profile struct {
	DID        string
	Whitelist  ProfileList
	Blacklist  ProfileList
	ModifiedAt time.Time
}

// List returns the list of the given kind.
func (p *Profile) List(kind ListKind) ProfileList {
	if kind == Blacklist {
		return p.Blacklist
	}
	return p.Whitelist
}
