package catalog

import "fmt"

// Family identifies one reference table.
type Family string

// Reference families.
const (
	FamilyCountry  Family = "country"
	FamilyPurpose  Family = "purpose"
	FamilyPlatform Family = "platform_type"
	FamilyPayload  Family = "payload_type"
	FamilyGuidance Family = "guidance_type"
)

// UnknownReference is the display name of the per-family sentinel row.
const UnknownReference = "Unknown"

// Families lists every reference family in resolution order.
var Families = []Family{
	FamilyCountry,
	FamilyPurpose,
	FamilyPlatform,
	FamilyPayload,
	FamilyGuidance,
}

// Field returns the record field carrying the family's free-text value.
func (f Family) Field() Field {
	switch f {
	case FamilyCountry:
		return FieldCountry
	case FamilyPurpose:
		return FieldPurpose
	case FamilyPlatform:
		return FieldBase
	case FamilyPayload:
		return FieldWarhead
	case FamilyGuidance:
		return FieldGuidance
	default:
		return ""
	}
}

// Table returns the relational table backing the family.
func (f Family) Table() string {
	switch f {
	case FamilyCountry:
		return "countries"
	case FamilyPurpose:
		return "purposes"
	case FamilyPlatform:
		return "base_types"
	case FamilyPayload:
		return "warhead_types"
	case FamilyGuidance:
		return "guidance_systems"
	default:
		return ""
	}
}

// Validate rejects families outside the fixed set.
func (f Family) Validate() error {
	if f.Table() == "" {
		return fmt.Errorf("unknown reference family %q", string(f))
	}
	return nil
}

// ReferenceIDs maps each family to the resolved reference row.
type ReferenceIDs map[Family]int64
