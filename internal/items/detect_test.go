package items

import "testing"

func TestDetectItemsInContent(t *testing.T) {
	existing := []Item{
		{ID: "i1", Name: "Thanh Phong Kiếm", Category: CategoryWeapon, AlternateName: "Kiếm Gió"},
		{ID: "i2", Name: "Hồi Khí Đan", Category: CategoryConsumable},
	}
	text := `Lâm Phong rút Thanh Phong Kiếm ra khỏi vỏ. Trương Tam ném ra một viên "Bạo Liệt Đan" rồi khoác Huyền Vũ Giáp lên người.`

	found := DetectItemsInContent(text, existing)

	byName := map[string]DetectedItem{}
	for _, d := range found {
		byName[d.Name] = d
	}
	if d, ok := byName["Thanh Phong Kiếm"]; !ok || d.IsNew || d.ExistingID != "i1" {
		t.Errorf("known item not detected as existing: %+v", found)
	}
	if _, ok := byName["Hồi Khí Đan"]; ok {
		t.Error("unmentioned item detected")
	}
	if d, ok := byName["Bạo Liệt Đan"]; !ok || !d.IsNew || d.Category != CategoryConsumable {
		t.Errorf("quoted new pill not detected: %+v", found)
	}
	if d, ok := byName["Huyền Vũ Giáp"]; !ok || !d.IsNew || d.Category != CategoryArmor {
		t.Errorf("capitalized new armor not detected: %+v", found)
	}
	if _, ok := byName["Lâm Phong"]; ok {
		t.Error("character name detected as an item")
	}
}

func TestDetectItemsInContent_EmptyAndOddInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\"\"", "《", "chỉ có chữ thường ở đây"} {
		if got := DetectItemsInContent(text, nil); got == nil {
			t.Errorf("DetectItemsInContent(%q) returned nil, want empty slice", text)
		}
	}
}
