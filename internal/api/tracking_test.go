package api

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/kalambet/inkwell/internal/items"
	"github.com/kalambet/inkwell/internal/progression"
)

func TestProgressionEndpoints(t *testing.T) {
	env := setupHandler(t)
	base := "/projects/proj-1/progression"

	rr := env.do(t, http.MethodPost, base+"/characters", `{"name":"Lâm Phong","realm":"Luyện Khí","level":9,"chapter":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("init: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if res := decodeResp[progression.Result](t, rr); !res.Valid {
		t.Fatalf("init result = %+v", res)
	}

	rr = env.do(t, http.MethodPost, base+"/breakthroughs/validate", `{"name":"Lâm Phong","chapter":50,"new_realm":"Trúc Cơ","new_level":1}`)
	if res := decodeResp[progression.Result](t, rr); !res.Valid {
		t.Fatalf("validate result = %+v", res)
	}
	// Validation alone must not change state.
	rr = env.do(t, http.MethodGet, base+"/characters/"+url.PathEscape("Lâm Phong"), "")
	if st := decodeResp[characterView](t, rr); st.Realm != "Luyện Khí" {
		t.Fatalf("realm after validate = %q", st.Realm)
	}

	rr = env.do(t, http.MethodPost, base+"/breakthroughs", `{"name":"Lâm Phong","chapter":50,"new_realm":"Trúc Cơ","new_level":1,"trigger":"đan dược"}`)
	if res := decodeResp[progression.Result](t, rr); !res.Valid {
		t.Fatalf("breakthrough result = %+v", res)
	}

	rr = env.do(t, http.MethodGet, base+"/characters/"+url.PathEscape("Lâm Phong")+"?chapter=51", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get character: status = %d", rr.Code)
	}
	st := decodeResp[characterView](t, rr)
	if st.Realm != "Trúc Cơ" || st.Level != 1 || st.TotalBreakthroughs != 1 || st.Summary == "" {
		t.Errorf("character = %+v", st)
	}

	rr = env.do(t, http.MethodGet, base+"/", "")
	if list := decodeResp[[]progression.State](t, rr); len(list) != 1 {
		t.Errorf("characters = %+v", list)
	}

	if rr := env.do(t, http.MethodGet, base+"/characters/Nobody", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown character: status = %d, want 404", rr.Code)
	}
}

func TestProgressionQueryValidation(t *testing.T) {
	env := setupHandler(t)
	if rr := env.do(t, http.MethodGet, "/projects/p/progression/expected", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing chapter: status = %d, want 400", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/projects/p/progression/grades/validate?chapter=10", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing grade: status = %d, want 400", rr.Code)
	}
	rr := env.do(t, http.MethodGet, "/projects/p/progression/expected?chapter=500&total=1000", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected: status = %d", rr.Code)
	}
	if exp := decodeResp[progression.Expectation](t, rr); exp.Realm == "" {
		t.Errorf("expectation = %+v", exp)
	}
}

func TestItemEndpoints(t *testing.T) {
	env := setupHandler(t)
	base := "/projects/proj-1/items"
	sword := url.PathEscape("Thanh Phong Kiếm")

	rr := env.do(t, http.MethodPost, base+"/", `{"name":"Thanh Phong Kiếm","category":"weapon","grade":"hạ phẩm","chapter":10,"owner":"Lâm Phong","estimated_value":100}`)
	if res := decodeResp[items.Result](t, rr); !res.Success {
		t.Fatalf("register = %+v", res)
	}

	rr = env.do(t, http.MethodPost, base+"/", `{"name":"thanh phong kiếm","category":"weapon","grade":"hạ phẩm","chapter":11}`)
	if res := decodeResp[items.Result](t, rr); res.Success {
		t.Error("duplicate name was accepted")
	}

	rr = env.do(t, http.MethodPost, base+"/validate-name", `{"name":"Thanh Phong Kiem"}`)
	if check := decodeResp[items.NameCheck](t, rr); len(check.Similar) == 0 {
		t.Errorf("name check = %+v, want a similar match", check)
	}

	rr = env.do(t, http.MethodPost, base+"/"+sword+"/transfer", `{"owner":"Tiêu Viêm","chapter":20}`)
	if res := decodeResp[items.Result](t, rr); !res.Success {
		t.Fatalf("transfer = %+v", res)
	}

	rr = env.do(t, http.MethodGet, base+"/?owner="+url.QueryEscape("Tiêu Viêm"), "")
	if list := decodeResp[[]items.Item](t, rr); len(list) != 1 || len(list[0].OwnerHistory) != 2 {
		t.Errorf("items by owner = %+v", list)
	}

	rr = env.do(t, http.MethodGet, base+"/reminders?chapter=100", "")
	if rem := decodeResp[[]items.Reminder](t, rr); len(rem) != 1 || rem[0].ItemName != "Thanh Phong Kiếm" {
		t.Errorf("reminders = %+v", rem)
	}

	rr = env.do(t, http.MethodPost, base+"/"+sword+"/mentions", `{"chapter":95}`)
	if res := decodeResp[items.Result](t, rr); !res.Success {
		t.Fatalf("mention = %+v", res)
	}
	rr = env.do(t, http.MethodGet, base+"/reminders?chapter=100", "")
	if rem := decodeResp[[]items.Reminder](t, rr); len(rem) != 0 {
		t.Errorf("reminders after mention = %+v", rem)
	}

	rr = env.do(t, http.MethodPost, base+"/"+sword+"/status", `{"status":"destroyed","chapter":120}`)
	if res := decodeResp[items.Result](t, rr); !res.Success {
		t.Fatalf("status = %+v", res)
	}

	rr = env.do(t, http.MethodGet, base+"/stats?chapter=120", "")
	if stats := decodeResp[items.Statistics](t, rr); stats.TotalItems != 1 {
		t.Errorf("stats = %+v", stats)
	}

	rr = env.do(t, http.MethodGet, base+"/economy", "")
	if rep := decodeResp[items.EconomyReport](t, rr); !rep.IsConsistent {
		t.Errorf("economy = %+v", rep)
	}

	rr = env.do(t, http.MethodGet, base+"/suggestions?category=weapon&count=3", "")
	if names := decodeResp[[]string](t, rr); len(names) != 3 {
		t.Errorf("suggestions = %v", names)
	}
	if rr := env.do(t, http.MethodGet, base+"/suggestions?category=spaceship", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad category: status = %d, want 400", rr.Code)
	}

	rr = env.do(t, http.MethodPost, base+"/detect", `{"content":"Hắn rút Thanh Phong Kiếm ra."}`)
	found := decodeResp[[]items.DetectedItem](t, rr)
	var known bool
	for _, d := range found {
		if d.Name == "Thanh Phong Kiếm" && !d.IsNew {
			known = true
		}
	}
	if !known {
		t.Errorf("detect = %+v, want the registered sword", found)
	}
}
