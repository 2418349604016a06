package items

var namePrefixes = []string{"Thanh", "Huyết", "Hàn", "Lôi", "Tử", "Kim", "Huyền", "Thiên", "Cửu", "Bích", "Liệt", "Vân"}

var nameCores = []string{"Phong", "Long", "Diễm", "Sương", "Tinh", "Nguyệt", "Hỏa", "Ảnh", "Vũ", "Linh"}

var nameSuffixes = map[Category][]string{
	CategoryWeapon:     {"Kiếm", "Đao", "Thương"},
	CategoryArmor:      {"Giáp", "Bào", "Thuẫn"},
	CategoryConsumable: {"Đan", "Hoàn", "Dịch"},
	CategoryTechnique:  {"Quyết", "Công", "Kinh"},
	CategoryArtifact:   {"Ấn", "Châu", "Đỉnh", "Phù"},
}

// GenerateItemNameSuggestions composes up to count names for category that
// do not collide case-insensitively with existingNamesLower.
func GenerateItemNameSuggestions(category Category, existingNamesLower []string, count int) []string {
	if count <= 0 {
		return nil
	}
	suffixes, ok := nameSuffixes[category]
	if !ok {
		suffixes = nameSuffixes[CategoryArtifact]
	}

	taken := make(map[string]bool, len(existingNamesLower))
	for _, n := range existingNamesLower {
		taken[foldCase(n)] = true
	}

	p, c, s := len(namePrefixes), len(nameCores), len(suffixes)
	total := p * c * s
	var out []string
	for k := 0; k < total && len(out) < count; k++ {
		// Prefix cycles fastest; the core advances on a stride of 7.
		name := namePrefixes[k%p] + " " + nameCores[(k*7)%c] + " " + suffixes[(k/p)%s]
		key := foldCase(name)
		if taken[key] {
			continue
		}
		taken[key] = true
		out = append(out, name)
	}
	return out
}
