package enricher

import "github.com/tena-analytics/warehouse-cli/internal/model"

// ClassSets partitions detector classes into the groups the category rule
// cares about. Membership is exact class-name match.
type ClassSets struct {
	Person  map[string]bool
	Product map[string]bool
}

// NewClassSets builds ClassSets from the configured class lists.
func NewClassSets(person, product []string) ClassSets {
	cs := ClassSets{
		Person:  make(map[string]bool, len(person)),
		Product: make(map[string]bool, len(product)),
	}
	for _, c := range person {
		cs.Person[c] = true
	}
	for _, c := range product {
		cs.Product[c] = true
	}
	return cs
}

// Categorize assigns the image category from a detection class set.
// Person and product together mean promotional; product alone means
// product_display; person alone means lifestyle; anything else is other.
// The rule only sees class names, so it is deterministic for a given
// detection set regardless of order or confidence.
func Categorize(classes []string, sets ClassSets) model.ImageCategory {
	var hasPerson, hasProduct bool
	for _, c := range classes {
		if sets.Person[c] {
			hasPerson = true
		}
		if sets.Product[c] {
			hasProduct = true
		}
	}
	switch {
	case hasPerson && hasProduct:
		return model.CategoryPromotional
	case hasProduct:
		return model.CategoryProductDisplay
	case hasPerson:
		return model.CategoryLifestyle
	default:
		return model.CategoryOther
	}
}
