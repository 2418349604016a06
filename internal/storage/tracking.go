package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// --- Progression states ---

func (s *Store) SaveProgressionStates(ctx context.Context, rows []ProgressionRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning progression save: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		abilities, err := json.Marshal(nonNilStrings(r.Abilities))
		if err != nil {
			return err
		}
		items := r.Items
		if items == nil {
			items = []ProgressionItem{}
		}
		itemsJSON, err := json.Marshal(items)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO progression_states (project_id, character_name, realm, level, abilities_json, items_json,
				total_breakthroughs, last_breakthrough_chapter)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, character_name) DO UPDATE SET
				realm = excluded.realm,
				level = excluded.level,
				abilities_json = excluded.abilities_json,
				items_json = excluded.items_json,
				total_breakthroughs = excluded.total_breakthroughs,
				last_breakthrough_chapter = excluded.last_breakthrough_chapter`,
			r.ProjectID, r.CharacterName, r.Realm, r.Level, string(abilities), string(itemsJSON),
			r.TotalBreakthroughs, r.LastBreakthroughChapter,
		)
		if err != nil {
			return fmt.Errorf("saving progression for %s: %w", r.CharacterName, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListProgressionStates(ctx context.Context, projectID string) ([]ProgressionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, character_name, realm, level, abilities_json, items_json,
			total_breakthroughs, last_breakthrough_chapter
		FROM progression_states WHERE project_id = ? ORDER BY character_name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing progression states: %w", err)
	}
	defer rows.Close()

	var out []ProgressionRow
	for rows.Next() {
		var r ProgressionRow
		var abilities, items string
		if err := rows.Scan(&r.ProjectID, &r.CharacterName, &r.Realm, &r.Level, &abilities, &items,
			&r.TotalBreakthroughs, &r.LastBreakthroughChapter); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(abilities), &r.Abilities); err != nil {
			return nil, fmt.Errorf("parsing abilities of %s: %w", r.CharacterName, err)
		}
		if err := json.Unmarshal([]byte(items), &r.Items); err != nil {
			return nil, fmt.Errorf("parsing items of %s: %w", r.CharacterName, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Tracked items ---

func (s *Store) SaveItems(ctx context.Context, rows []ItemRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning item save: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		effects, err := json.Marshal(nonNilStrings(r.Effects))
		if err != nil {
			return err
		}
		history := r.OwnerHistory
		if history == nil {
			history = []OwnerRecord{}
		}
		historyJSON, err := json.Marshal(history)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tracked_items (id, project_id, name, alternate_name, category, grade, description,
				effects_json, estimated_value, currency, first_mention_chapter, last_mention_chapter,
				mention_count, current_owner, owner_history_json, status, status_change_chapter)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				alternate_name = excluded.alternate_name,
				category = excluded.category,
				grade = excluded.grade,
				description = excluded.description,
				effects_json = excluded.effects_json,
				estimated_value = excluded.estimated_value,
				currency = excluded.currency,
				last_mention_chapter = excluded.last_mention_chapter,
				mention_count = excluded.mention_count,
				current_owner = excluded.current_owner,
				owner_history_json = excluded.owner_history_json,
				status = excluded.status,
				status_change_chapter = excluded.status_change_chapter`,
			r.ID, r.ProjectID, r.Name, r.AlternateName, r.Category, r.Grade, r.Description,
			string(effects), r.EstimatedValue, r.Currency, r.FirstMentionChapter, r.LastMentionChapter,
			r.MentionCount, r.CurrentOwner, string(historyJSON), r.Status, r.StatusChangeChapter,
		)
		if err != nil {
			return fmt.Errorf("saving item %s: %w", r.Name, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListItems(ctx context.Context, projectID string) ([]ItemRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, alternate_name, category, grade, description, effects_json,
			estimated_value, currency, first_mention_chapter, last_mention_chapter, mention_count,
			current_owner, owner_history_json, status, status_change_chapter
		FROM tracked_items WHERE project_id = ? ORDER BY first_mention_chapter, rowid`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		var r ItemRow
		var effects, history string
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.AlternateName, &r.Category, &r.Grade,
			&r.Description, &effects, &r.EstimatedValue, &r.Currency, &r.FirstMentionChapter,
			&r.LastMentionChapter, &r.MentionCount, &r.CurrentOwner, &history, &r.Status,
			&r.StatusChangeChapter); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(effects), &r.Effects); err != nil {
			return nil, fmt.Errorf("parsing effects of %s: %w", r.Name, err)
		}
		if err := json.Unmarshal([]byte(history), &r.OwnerHistory); err != nil {
			return nil, fmt.Errorf("parsing owner history of %s: %w", r.Name, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
