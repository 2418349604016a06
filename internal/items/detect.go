package items

import (
	"regexp"
	"strings"
)

var categoryKeywords = map[string]Category{
	"kiem": CategoryWeapon, "dao": CategoryWeapon, "thuong": CategoryWeapon, "cung": CategoryWeapon,
	"sword": CategoryWeapon, "blade": CategoryWeapon, "spear": CategoryWeapon, "bow": CategoryWeapon,

	"giap": CategoryArmor, "bao": CategoryArmor, "thuan": CategoryArmor,
	"armor": CategoryArmor, "shield": CategoryArmor, "robe": CategoryArmor,

	"dan": CategoryConsumable, "duoc": CategoryConsumable, "hoan": CategoryConsumable, "dich": CategoryConsumable,
	"pill": CategoryConsumable, "elixir": CategoryConsumable, "potion": CategoryConsumable,

	"quyet": CategoryTechnique, "cong": CategoryTechnique, "phap": CategoryTechnique, "kinh": CategoryTechnique,
	"technique": CategoryTechnique, "art": CategoryTechnique, "manual": CategoryTechnique,

	"phu": CategoryArtifact, "dinh": CategoryArtifact, "chau": CategoryArtifact,
	"chung": CategoryArtifact, "thap": CategoryArtifact, "talisman": CategoryArtifact, "seal": CategoryArtifact,
	"cauldron": CategoryArtifact, "pearl": CategoryArtifact, "mirror": CategoryArtifact, "bell": CategoryArtifact,
}

// keywordCategory classifies a name by its last word, loosely folded.
func keywordCategory(name string) (Category, bool) {
	words := strings.Fields(foldLoose(name))
	if len(words) == 0 {
		return "", false
	}
	c, ok := categoryKeywords[words[len(words)-1]]
	return c, ok
}

func guessCategory(name string) Category {
	if c, ok := keywordCategory(name); ok {
		return c
	}
	return CategoryArtifact
}

var (
	quotedName = regexp.MustCompile(`["“「《\[]([^"”」》\]\n]{2,60})["”」》\]]`)
	// Two to five capitalized words in a row, e.g. "Thanh Phong Kiếm".
	properName = regexp.MustCompile(`\p{Lu}[\p{L}\p{M}]*(?:[ \t]+\p{Lu}[\p{L}\p{M}]*){1,4}`)
)

// DetectedItem is an item-like mention found in prose.
type DetectedItem struct {
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	IsNew      bool     `json:"is_new"`
	ExistingID string   `json:"existing_id,omitempty"`
}

// DetectItemsInContent scans text for mentions of known items and for new
// item-like names (a quoted or capitalized phrase ending in a category
// keyword). It is a best-effort heuristic: misses are expected and it
// never fails.
func DetectItemsInContent(text string, existing []Item) []DetectedItem {
	out := []DetectedItem{}
	seen := make(map[string]bool)
	loose := foldLoose(text)

	for _, it := range existing {
		for _, n := range []string{it.Name, it.AlternateName} {
			key := foldLoose(n)
			if key == "" || seen[key] || !strings.Contains(loose, key) {
				continue
			}
			out = append(out, DetectedItem{Name: it.Name, Category: it.Category, ExistingID: it.ID})
			seen[foldLoose(it.Name)] = true
			if it.AlternateName != "" {
				seen[foldLoose(it.AlternateName)] = true
			}
			break
		}
	}

	consider := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		key := foldLoose(candidate)
		if key == "" || seen[key] {
			return
		}
		cat, ok := keywordCategory(candidate)
		if !ok || len(strings.Fields(key)) < 2 {
			return
		}
		seen[key] = true
		out = append(out, DetectedItem{Name: candidate, Category: cat, IsNew: true})
	}
	for _, m := range quotedName.FindAllStringSubmatch(text, -1) {
		consider(m[1])
	}
	for _, m := range properName.FindAllString(text, -1) {
		consider(m)
	}
	return out
}
