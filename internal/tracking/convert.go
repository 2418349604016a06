package tracking

import (
	"github.com/kalambet/inkwell/internal/items"
	"github.com/kalambet/inkwell/internal/progression"
	"github.com/kalambet/inkwell/internal/storage"
)

func stateFromRow(r storage.ProgressionRow) progression.State {
	s := progression.State{
		CharacterName:           r.CharacterName,
		Realm:                   r.Realm,
		Level:                   r.Level,
		Abilities:               r.Abilities,
		TotalBreakthroughs:      r.TotalBreakthroughs,
		LastBreakthroughChapter: r.LastBreakthroughChapter,
	}
	for _, it := range r.Items {
		s.Items = append(s.Items, progression.Item{
			Name: it.Name, Type: it.Type, Grade: it.Grade, AcquiredChapter: it.AcquiredChapter,
		})
	}
	return s
}

func rowFromState(projectID string, s progression.State) storage.ProgressionRow {
	r := storage.ProgressionRow{
		ProjectID:               projectID,
		CharacterName:           s.CharacterName,
		Realm:                   s.Realm,
		Level:                   s.Level,
		Abilities:               s.Abilities,
		TotalBreakthroughs:      s.TotalBreakthroughs,
		LastBreakthroughChapter: s.LastBreakthroughChapter,
	}
	for _, it := range s.Items {
		r.Items = append(r.Items, storage.ProgressionItem{
			Name: it.Name, Type: it.Type, Grade: it.Grade, AcquiredChapter: it.AcquiredChapter,
		})
	}
	return r
}

func itemFromRow(r storage.ItemRow) items.Item {
	it := items.Item{
		ID:                  r.ID,
		ProjectID:           r.ProjectID,
		Name:                r.Name,
		AlternateName:       r.AlternateName,
		Category:            items.Category(r.Category),
		Grade:               r.Grade,
		Description:         r.Description,
		Effects:             r.Effects,
		EstimatedValue:      r.EstimatedValue,
		Currency:            r.Currency,
		FirstMentionChapter: r.FirstMentionChapter,
		LastMentionChapter:  r.LastMentionChapter,
		MentionCount:        r.MentionCount,
		CurrentOwner:        r.CurrentOwner,
		Status:              items.Status(r.Status),
		StatusChangeChapter: r.StatusChangeChapter,
	}
	for _, o := range r.OwnerHistory {
		it.OwnerHistory = append(it.OwnerHistory, items.OwnerRecord{Owner: o.Owner, Chapter: o.Chapter})
	}
	return it
}

func rowFromItem(projectID string, it items.Item) storage.ItemRow {
	r := storage.ItemRow{
		ID:                  it.ID,
		ProjectID:           projectID,
		Name:                it.Name,
		AlternateName:       it.AlternateName,
		Category:            string(it.Category),
		Grade:               it.Grade,
		Description:         it.Description,
		Effects:             it.Effects,
		EstimatedValue:      it.EstimatedValue,
		Currency:            it.Currency,
		FirstMentionChapter: it.FirstMentionChapter,
		LastMentionChapter:  it.LastMentionChapter,
		MentionCount:        it.MentionCount,
		CurrentOwner:        it.CurrentOwner,
		Status:              string(it.Status),
		StatusChangeChapter: it.StatusChangeChapter,
	}
	if r.Status == "" {
		r.Status = string(items.StatusActive)
	}
	for _, o := range it.OwnerHistory {
		r.OwnerHistory = append(r.OwnerHistory, storage.OwnerRecord{Owner: o.Owner, Chapter: o.Chapter})
	}
	return r
}
