// Package catalog defines the domain types shared by the crawl and import stages.
package catalog

import "strings"

// Field names a recognized key of an extracted record.
type Field string

// Card-level fields present on index pages.
const (
	FieldName          Field = "name"
	FieldDetailURL     Field = "detail_url"
	FieldIndexURL      Field = "index_url"
	FieldPageNumber    Field = "page_number"
	FieldDescription   Field = "description"
	FieldRangeKM       Field = "range_km"
	FieldYearDeveloped Field = "year_developed"
	FieldCountry       Field = "country"
	FieldPurpose       Field = "purpose"
	FieldBase          Field = "base"
	FieldWarhead       Field = "warhead"
	FieldGuidance      Field = "guidance_system"
)

// Detailed specification fields captured from detail pages.
const (
	FieldRangeDetailed        Field = "range_detailed"
	FieldSpeed                Field = "speed"
	FieldWeight               Field = "weight"
	FieldLength               Field = "length"
	FieldDiameter             Field = "diameter"
	FieldWingspan             Field = "wingspan"
	FieldHeight               Field = "height"
	FieldAccuracy             Field = "accuracy"
	FieldFlightTime           Field = "flight_time"
	FieldFlightAltitude       Field = "flight_altitude"
	FieldEngineType           Field = "engine_type"
	FieldThrust               Field = "thrust"
	FieldBurnTime             Field = "burn_time"
	FieldFuelType             Field = "fuel_type"
	FieldGuidanceDetailed     Field = "guidance_system_detailed"
	FieldWarheadDetailed      Field = "warhead_detailed"
	FieldFuseType             Field = "fuse_type"
	FieldCountryDetailed      Field = "country_detailed"
	FieldDeveloper            Field = "developer"
	FieldManufacturer         Field = "manufacturer"
	FieldYearDetailed         Field = "year_developed_detailed"
	FieldAdoptionYear         Field = "adoption_year"
	FieldStatus               Field = "status"
	FieldQuantity             Field = "quantity"
	FieldOtherCharacteristics Field = "other_characteristics"
)

// CardFields lists the fields an index card may carry, in output order.
var CardFields = []Field{
	FieldName,
	FieldDetailURL,
	FieldIndexURL,
	FieldPageNumber,
	FieldBase,
	FieldPurpose,
	FieldWarhead,
	FieldGuidance,
	FieldCountry,
	FieldRangeKM,
	FieldYearDeveloped,
	FieldDescription,
}

// DetailFields lists the free-text specification fields stored on an item detail row.
var DetailFields = []Field{
	FieldRangeDetailed,
	FieldSpeed,
	FieldWeight,
	FieldLength,
	FieldDiameter,
	FieldWingspan,
	FieldHeight,
	FieldAccuracy,
	FieldFlightTime,
	FieldFlightAltitude,
	FieldEngineType,
	FieldThrust,
	FieldBurnTime,
	FieldFuelType,
	FieldGuidanceDetailed,
	FieldWarheadDetailed,
	FieldFuseType,
	FieldCountryDetailed,
	FieldDeveloper,
	FieldManufacturer,
	FieldYearDetailed,
	FieldAdoptionYear,
	FieldStatus,
	FieldQuantity,
	FieldOtherCharacteristics,
}

var knownFields = func() map[Field]struct{} {
	out := make(map[Field]struct{}, len(CardFields)+len(DetailFields))
	for _, f := range CardFields {
		out[f] = struct{}{}
	}
	for _, f := range DetailFields {
		out[f] = struct{}{}
	}
	return out
}()

// Known reports whether f belongs to the recognized field set.
func (f Field) Known() bool {
	_, ok := knownFields[f]
	return ok
}

// Fields is a sparse mapping of recognized fields to raw text values.
// An absent key means the value was not present on the source page.
type Fields map[Field]string

// Get returns the value for f and whether it is present.
func (fs Fields) Get(f Field) (string, bool) {
	if fs == nil {
		return "", false
	}
	v, ok := fs[f]
	return v, ok
}

// Value returns the value for f or an empty string.
func (fs Fields) Value(f Field) string {
	v, _ := fs.Get(f)
	return v
}

// Set stores a trimmed value; blank values and unknown fields are ignored.
func (fs Fields) Set(f Field, value string) {
	value = strings.TrimSpace(value)
	if value == "" || !f.Known() {
		return
	}
	fs[f] = value
}

// Merge copies every present field of other into fs, overwriting existing keys.
func (fs Fields) Merge(other Fields) {
	for k, v := range other {
		fs.Set(k, v)
	}
}

// Clone returns a copy of fs.
func (fs Fields) Clone() Fields {
	out := make(Fields, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}
