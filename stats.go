package deepdelta

// Stats holds counts gathered while diffing.
type Stats struct {
	Inserts int `json:"inserts,omitempty"` // members present only on the right
	Deletes int `json:"deletes,omitempty"` // members present only on the left
	Updates int `json:"updates,omitempty"` // members whose value changed
}

// Total returns the number of recorded changes.
func (s Stats) Total() int {
	return s.Inserts + s.Deletes + s.Updates
}

// NetChange returns the shift in member count between the two sides.
func (s Stats) NetChange() int {
	return s.Inserts - s.Deletes
}
