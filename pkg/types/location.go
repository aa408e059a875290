package types

import "fmt"

// Location is a position in the query source.
type Location struct {
	Line   int
	Column int
}

// Loc is shorthand for constructing a Location.
func Loc(line, column int) Location {
	return Location{Line: line, Column: column}
}

// IsSet reports whether the location carries a position.
func (l Location) IsSet() bool {
	return l.Line > 0
}

func (l Location) String() string {
	if !l.IsSet() {
		return "unknown location"
	}
	return fmt.Sprintf("line %d, column %d", l.Line, l.Column)
}
