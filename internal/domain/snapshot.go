package domain

// Group is an occupied channel with its members in listing order.
type Group struct {
	ID      ChannelID `json:"id"`
	Name    string    `json:"name"`
	Members []string  `json:"members"`
}

// OccupancySnapshot is a point-in-time read of who sits where.
// Groups are ordered by channel id; EmptyGroupNames keep listing order.
// Filtered channels never appear in either field.
type OccupancySnapshot struct {
	Groups          []Group  `json:"groups"`
	EmptyGroupNames []string `json:"empty_group_names"`
}

// Group returns the occupied group with the given id.
func (s OccupancySnapshot) Group(id ChannelID) (Group, bool) {
	for _, g := range s.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// MemberCount is the number of members across all occupied groups.
func (s OccupancySnapshot) MemberCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Members)
	}
	return n
}
