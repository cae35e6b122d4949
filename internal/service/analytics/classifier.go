package analytics

import "strings"

// Property type keys as stored on properties.
const (
	TypeNewBuild    = "novostroyki"
	TypeSecondary   = "secondary"
	TypeRent        = "rent"
	TypeCountryside = "countryside"
	TypeInvest      = "invest"
	TypeOther       = "other"
	TypeNone        = "none"
)

var displayNames = map[string]string{
	TypeNewBuild:    "Новостройки",
	TypeSecondary:   "Вторичное жилье",
	TypeRent:        "Аренда",
	TypeCountryside: "Загородная недвижимость",
	TypeInvest:      "Инвестиционные объекты",
	TypeOther:       "Другое",
	TypeNone:        "Без привязки к объекту",
}

// DisplayName returns the human label of a property type, or the key itself
// for types without one.
func DisplayName(propertyType string) string {
	if name, ok := displayNames[propertyType]; ok {
		return name
	}
	return propertyType
}

type titleRule struct {
	propertyType string
	stems        []string
}

// titleRules are tried in order; the first rule with a matching stem wins.
var titleRules = []titleRule{
	{TypeNewBuild, []string{"новостр", "новая", "novostroyki", "new build"}},
	{TypeSecondary, []string{"вторич", "втор", "secondary", "resale"}},
	{TypeRent, []string{"аренд", "снять", "сдам", "rent", "lease"}},
	{TypeCountryside, []string{"загород", "дача", "коттедж", "дом", "countryside", "cottage", "house"}},
	{TypeInvest, []string{"инвест", "доход", "прибыль", "invest"}},
}

// ClassifyTitle guesses a property type from free text. It is a heuristic for
// pipelines whose deals carry no property link.
func ClassifyTitle(title string) string {
	t := strings.ToLower(title)
	for _, rule := range titleRules {
		for _, stem := range rule.stems {
			if strings.Contains(t, stem) {
				return rule.propertyType
			}
		}
	}
	return TypeOther
}

// titleOrder is the row order of heuristic results.
var titleOrder = []string{TypeNewBuild, TypeSecondary, TypeRent, TypeCountryside, TypeInvest, TypeOther}
