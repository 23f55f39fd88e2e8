package models

import "fmt"

// UnitType identifies the structural role of a parsed unit.
type UnitType string

const (
	UnitHeading      UnitType = "heading"
	UnitParagraph    UnitType = "paragraph"
	UnitTable        UnitType = "table"
	UnitNumberedList UnitType = "numbered_list"
	UnitPageBreak    UnitType = "page_break"
)

// StructuralUnit is one element of the ordered stream a document parser
// produces. Exactly one of Text, Rows or Items carries content depending
// on Type; page breaks carry none.
type StructuralUnit struct {
	Type  UnitType
	Text  string
	Rows  [][]string
	Items []string
	Level int
	Page  int
}

// Validate reports whether the unit is well formed. A content unit with
// nothing in it indicates a truncated or corrupted parser stream.
func (u StructuralUnit) Validate() error {
	switch u.Type {
	case UnitHeading, UnitParagraph:
		if u.Text == "" {
			return fmt.Errorf("%s unit with empty text", u.Type)
		}
	case UnitTable:
		if len(u.Rows) == 0 {
			return fmt.Errorf("table unit with no rows")
		}
	case UnitNumberedList:
		if len(u.Items) == 0 {
			return fmt.Errorf("numbered_list unit with no items")
		}
	case UnitPageBreak:
	default:
		return fmt.Errorf("unknown unit type %q", u.Type)
	}
	return nil
}
