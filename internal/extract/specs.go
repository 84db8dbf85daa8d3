package extract

import (
	"strings"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

type specRule struct {
	field    catalog.Field
	keywords []string
}

// specRules are checked in order; the first rule with a keyword contained in
// the lowercased characteristic name wins.
var specRules = []specRule{
	{catalog.FieldFlightAltitude, []string{"высота полета", "высота полёта", "flight altitude", "altitude"}},
	{catalog.FieldFlightTime, []string{"время полета", "время полёта", "flight time"}},
	{catalog.FieldBurnTime, []string{"время работы", "burn time"}},
	{catalog.FieldYearDetailed, []string{"год разработки", "year developed"}},
	{catalog.FieldAdoptionYear, []string{"принят на вооружение", "принята на вооружение", "adopted", "in service"}},
	{catalog.FieldGuidanceDetailed, []string{"система управления", "наведение", "guidance"}},
	// Stems match every case form ("масса боевой части") and must stay
	// ahead of the generic weight rule.
	{catalog.FieldWarheadDetailed, []string{"боевая част", "боевой част", "боевую част", "бч", "warhead"}},
	{catalog.FieldRangeDetailed, []string{"дальность", "range"}},
	{catalog.FieldSpeed, []string{"скорость", "speed"}},
	{catalog.FieldWeight, []string{"масса", "вес", "weight", "mass"}},
	{catalog.FieldLength, []string{"длина", "length"}},
	{catalog.FieldDiameter, []string{"диаметр", "diameter"}},
	{catalog.FieldWingspan, []string{"размах", "wingspan"}},
	{catalog.FieldHeight, []string{"высота", "height"}},
	{catalog.FieldAccuracy, []string{"точность", "кво", "accuracy"}},
	{catalog.FieldEngineType, []string{"двигатель", "engine"}},
	{catalog.FieldThrust, []string{"тяга", "thrust"}},
	{catalog.FieldFuelType, []string{"топливо", "fuel"}},
	{catalog.FieldFuseType, []string{"взрыватель", "fuse"}},
	{catalog.FieldCountryDetailed, []string{"страна", "country"}},
	{catalog.FieldDeveloper, []string{"разработчик", "developer"}},
	{catalog.FieldManufacturer, []string{"производитель", "изготовитель", "manufacturer"}},
	{catalog.FieldStatus, []string{"статус", "status"}},
	{catalog.FieldQuantity, []string{"количество", "quantity"}},
}

// SpecField maps a characteristic name to the detail field it fills.
func SpecField(name string) (catalog.Field, bool) {
	lower := strings.ToLower(cleanText(name))
	if lower == "" {
		return "", false
	}
	for _, rule := range specRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.field, true
			}
		}
	}
	return "", false
}

// applySpecs fills the detail fields from the characteristics table. The
// first row for a field wins; rows matching no field, or repeating an
// already filled one, are collected into other_characteristics.
func applySpecs(fields catalog.Fields, chars []catalog.Characteristic) {
	var other []string
	for _, c := range chars {
		field, ok := SpecField(c.Name)
		if ok {
			if _, taken := fields[field]; !taken {
				fields.Set(field, c.Value)
				continue
			}
		}
		other = append(other, c.Name+": "+c.Value)
	}
	if len(other) > 0 {
		fields.Set(catalog.FieldOtherCharacteristics, strings.Join(other, "; "))
	}
}
