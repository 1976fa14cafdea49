package session

import "github.com/stemsi/exstem-session/internal/model"

// Navigator moves the cursor and applies the section-entry timer rule.
type Navigator struct {
	state  *StateStore
	policy RevisitPolicy

	// beforeSectionChange runs before the cursor leaves its section.
	beforeSectionChange func()
	// onSectionEnter runs after a section has been entered.
	onSectionEnter func(from, to int)
}

// NewNavigator creates a Navigator over state.
func NewNavigator(state *StateStore, policy RevisitPolicy) *Navigator {
	if policy == "" {
		policy = RevisitRefill
	}
	return &Navigator{state: state, policy: policy}
}

// Goto moves the cursor to c. Switching sections checkpoints first and then
// resets the section timer for the target section.
func (n *Navigator) Goto(c model.Coordinate) error {
	if err := n.state.writable(); err != nil {
		return err
	}
	if !n.enterable(c) {
		return ErrInvalidCoordinate
	}
	s := n.state.Session()
	if c.Section == s.CurrentSectionIndex {
		s.CurrentQuestionIndex = c.Question
		return nil
	}
	n.enterSection(c.Section, c.Question)
	return nil
}

// Next advances one question, rolling into the next non-empty section at a boundary.
// It reports whether the cursor moved.
func (n *Navigator) Next() (bool, error) {
	if err := n.state.writable(); err != nil {
		return false, err
	}
	s := n.state.Session()
	if s.CurrentQuestionIndex+1 < s.Sections[s.CurrentSectionIndex].QuestionCount {
		s.CurrentQuestionIndex++
		return true, nil
	}
	for t := s.CurrentSectionIndex + 1; t < len(s.Sections); t++ {
		if s.Sections[t].QuestionCount > 0 {
			n.enterSection(t, 0)
			return true, nil
		}
	}
	return false, nil
}

// Previous steps back one question, rolling into the last question of the
// previous non-empty section at a boundary.
func (n *Navigator) Previous() (bool, error) {
	if err := n.state.writable(); err != nil {
		return false, err
	}
	s := n.state.Session()
	if s.CurrentQuestionIndex > 0 {
		s.CurrentQuestionIndex--
		return true, nil
	}
	for t := s.CurrentSectionIndex - 1; t >= 0; t-- {
		if count := s.Sections[t].QuestionCount; count > 0 {
			n.enterSection(t, count-1)
			return true, nil
		}
	}
	return false, nil
}

// HasNextSection reports whether a section follows the current one.
func (n *Navigator) HasNextSection() bool {
	s := n.state.Session()
	return s.CurrentSectionIndex+1 < len(s.Sections)
}

// AdvanceSection moves to question 0 of the next section. It is a no-op on the last section.
func (n *Navigator) AdvanceSection() bool {
	if !n.HasNextSection() {
		return false
	}
	n.enterSection(n.state.Session().CurrentSectionIndex+1, 0)
	return true
}

// enterable accepts any declared question, plus question 0 of an empty section.
func (n *Navigator) enterable(c model.Coordinate) bool {
	if n.state.Contains(c) {
		return true
	}
	s := n.state.Session()
	return c.Section >= 0 && c.Section < len(s.Sections) &&
		s.Sections[c.Section].QuestionCount == 0 && c.Question == 0
}

func (n *Navigator) enterSection(target, question int) {
	s := n.state.Session()
	from := s.CurrentSectionIndex
	if n.beforeSectionChange != nil {
		n.beforeSectionChange()
	}
	if n.policy == RevisitResume {
		s.SectionBudgets[from] = s.SectionTimeRemainingSec
	}
	s.CurrentSectionIndex = target
	s.CurrentQuestionIndex = question
	s.SectionTimeRemainingSec = n.entryBudget(target)
	if n.onSectionEnter != nil {
		n.onSectionEnter(from, target)
	}
}

func (n *Navigator) entryBudget(section int) int {
	s := n.state.Session()
	if n.policy == RevisitResume {
		if left, ok := s.SectionBudgets[section]; ok {
			return left
		}
	}
	return s.Sections[section].DurationSec
}
