package session

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionTable maps coordinates to question IDs. It is built once per load:
// ids is a flat arena and offsets[i] is where section i starts in it.
type QuestionTable struct {
	ids     []uuid.UUID
	offsets []int
	counts  []int
}

// NewQuestionTable lays questions out over the declared sections. Questions that
// carry a SectionID are grouped by it; otherwise sections consume questions in
// order. Slots without a question stay unresolved.
func NewQuestionTable(sections []model.Section, questions []model.Question) *QuestionTable {
	t := &QuestionTable{
		offsets: make([]int, len(sections)),
		counts:  make([]int, len(sections)),
	}
	total := 0
	for i, sec := range sections {
		t.offsets[i] = total
		t.counts[i] = sec.QuestionCount
		total += sec.QuestionCount
	}
	t.ids = make([]uuid.UUID, total)

	if hasSectionIDs(questions) {
		bySection := make(map[uuid.UUID][]uuid.UUID, len(sections))
		for _, q := range questions {
			if q.SectionID == nil {
				continue
			}
			bySection[*q.SectionID] = append(bySection[*q.SectionID], q.ID)
		}
		for i, sec := range sections {
			ids := bySection[sec.ID]
			for j := 0; j < sec.QuestionCount && j < len(ids); j++ {
				t.ids[t.offsets[i]+j] = ids[j]
			}
		}
		return t
	}

	for j := 0; j < total && j < len(questions); j++ {
		t.ids[j] = questions[j].ID
	}
	return t
}

func hasSectionIDs(questions []model.Question) bool {
	for _, q := range questions {
		if q.SectionID != nil {
			return true
		}
	}
	return false
}

// Resolve returns the question ID at c, or false if the slot is empty or out of range.
func (t *QuestionTable) Resolve(c model.Coordinate) (uuid.UUID, bool) {
	if c.Section < 0 || c.Section >= len(t.offsets) {
		return uuid.Nil, false
	}
	if c.Question < 0 || c.Question >= t.counts[c.Section] {
		return uuid.Nil, false
	}
	id := t.ids[t.offsets[c.Section]+c.Question]
	return id, id != uuid.Nil
}

// Len returns the number of declared slots.
func (t *QuestionTable) Len() int { return len(t.ids) }
