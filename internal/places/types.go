package places

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Tag is a Google place type used as a nearby-search filter.
type Tag string

// Tags the seeder knows how to map.
const (
	TagRestaurant Tag = "restaurant"
	TagCafe       Tag = "cafe"
	TagGym        Tag = "gym"
	TagLodging    Tag = "lodging"
	TagLibrary    Tag = "library"
	TagLaundry    Tag = "laundry"
	TagPharmacy   Tag = "pharmacy"
	TagStore      Tag = "store"
)

// Refinement adjusts the default sub-type using the place name. It returns
// keep=false to drop the place entirely.
type Refinement func(lowerName, subType string) (refined string, keep bool)

// Mapping is the category table entry for one tag.
type Mapping struct {
	Category Category
	SubType  string
	Refine   Refinement
}

// typeTable is ordered; the order is the default seeding order.
var typeTable = []struct {
	tag Tag
	m   Mapping
}{
	{TagRestaurant, Mapping{Category: CategoryFood, SubType: "restaurant"}},
	{TagCafe, Mapping{Category: CategoryFood, SubType: "cafe"}},
	{TagGym, Mapping{Category: CategoryFitness, SubType: "gym"}},
	{TagLodging, Mapping{Category: CategoryAccommodation, SubType: "hostel", Refine: RefineLodging}},
	{TagLibrary, Mapping{Category: CategoryStudy, SubType: "library"}},
	{TagLaundry, Mapping{Category: CategoryServices, SubType: "laundry"}},
	{TagPharmacy, Mapping{Category: CategoryHealth, SubType: "pharmacy"}},
	{TagStore, Mapping{Category: CategoryServices, SubType: "store", Refine: FilterStore}},
}

// AllTags returns every known tag in table order.
func AllTags() []Tag {
	tags := make([]Tag, len(typeTable))
	for i, e := range typeTable {
		tags[i] = e.tag
	}
	return tags
}

// Lookup returns the table entry for tag.
func Lookup(tag Tag) (Mapping, bool) {
	for _, e := range typeTable {
		if e.tag == tag {
			return e.m, true
		}
	}
	return Mapping{}, false
}

// MustLookup is Lookup for tags that were validated up front. An unknown tag
// is a programming error.
func MustLookup(tag Tag) Mapping {
	m, ok := Lookup(tag)
	if !ok {
		panic(fmt.Sprintf("places: unmapped tag %q", tag))
	}
	return m
}

// Resolve returns the category and sub-type for a place name under tag,
// applying the tag's refinement. keep is false when the refinement drops the
// place.
func Resolve(tag Tag, name string) (category Category, subType string, keep bool) {
	m := MustLookup(tag)
	if m.Refine == nil {
		return m.Category, m.SubType, true
	}
	subType, keep = m.Refine(lowerName(name), m.SubType)
	return m.Category, subType, keep
}

// storeKeywords keep a "store" result only when the name mentions one of them.
var storeKeywords = []string{"print", "xerox", "stationery", "courier", "copy", "stationary"}

// FilterStore keeps only printing, stationery and courier shops.
func FilterStore(lowerName, subType string) (string, bool) {
	return subType, containsAny(lowerName, storeKeywords)
}

// Lodging keyword groups, checked in order; the first match wins.
var lodgingGroups = []struct {
	subType  string
	keywords []string
}{
	{"pg", []string{"pg", "paying guest", "p.g.", "paying-guest"}},
	{"flat", []string{"flat", "apartment", "rental", "rent"}},
	{"co-living", []string{"co-living", "coliving", "co living"}},
}

// RefineLodging infers pg / flat / co-living from the name, keeping the
// default sub-type when nothing matches.
func RefineLodging(lowerName, subType string) (string, bool) {
	for _, g := range lodgingGroups {
		if containsAny(lowerName, g.keywords) {
			return g.subType, true
		}
	}
	return subType, true
}

// A Caser keeps state between calls, so each name gets its own.
func lowerName(name string) string {
	return cases.Lower(language.Und).String(name)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
