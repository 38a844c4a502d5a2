// Package replica holds the types shared by the tracker and the router.
package replica

// Role selects which replica a statement is sent to.
type Role int

const (
	Leader Role = iota
	Follower
)

func (r Role) String() string {
	switch r {
	case Leader:
		return "leader"
	case Follower:
		return "follower"
	default:
		return "unknown"
	}
}

// Identity is the opaque key of a reader or writer, usually a user ID.
// The empty Identity means none is known for the request.
type Identity string

// Known reports whether the identity is present.
func (id Identity) Known() bool { return id != "" }
