package label

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MultiLabel is an ephemeral group of labels sharing one aggregation key.
type MultiLabel struct {
	id       string
	labels   []Label
	query    string
	filters  map[string]any
	noAnswer bool
	answers  []string
	offsets  []Span
	docIDs   []string
	contexts []string
}

// NewMultiLabel builds the aggregate views over labels. Labels are de-duplicated
// by id (first wins). dropNegative keeps only labels with a correct document
// that either have a correct answer or no answer at all; dropNoAnswer removes
// no-answer labels. The result may hold zero labels.
func NewMultiLabel(labels []Label, dropNegative, dropNoAnswer bool) MultiLabel {
	seen := make(map[string]struct{}, len(labels))
	kept := make([]Label, 0, len(labels))
	for _, l := range labels {
		if _, dup := seen[l.id]; dup {
			continue
		}
		seen[l.id] = struct{}{}
		if dropNegative && !isPositive(&l) {
			continue
		}
		if dropNoAnswer && l.noAnswer {
			continue
		}
		kept = append(kept, l)
	}

	m := MultiLabel{labels: kept, noAnswer: true}
	if len(kept) > 0 {
		m.query = kept[0].query
		m.filters = kept[0].filters
	}
	for i := range kept {
		if !kept[i].noAnswer {
			m.noAnswer = false
			break
		}
	}

	if m.noAnswer {
		m.answers = []string{""}
	} else {
		seenAnswer := make(map[string]struct{})
		for i := range kept {
			l := &kept[i]
			if l.noAnswer || l.answer == nil {
				continue
			}
			if _, dup := seenAnswer[l.answer.Text]; !dup {
				seenAnswer[l.answer.Text] = struct{}{}
				m.answers = append(m.answers, l.answer.Text)
			}
			m.offsets = append(m.offsets, l.answer.OffsetsInDocument...)
		}
	}

	for i := range kept {
		if kept[i].noAnswer {
			continue
		}
		m.docIDs = append(m.docIDs, kept[i].document.ID())
		m.contexts = append(m.contexts, kept[i].document.Content())
	}

	f, _ := json.Marshal(m.filters)
	key, _ := json.Marshal([]string{m.query, string(f)})
	m.id = uuid.NewSHA1(labelNamespace, key).String()
	return m
}

func isPositive(l *Label) bool {
	return (l.isCorrectAnswer && l.isCorrectDocument) || (l.answer == nil && l.isCorrectDocument)
}

// ID is derived from the query and the filter scope.
func (m *MultiLabel) ID() string { return m.id }

// Labels returns the member labels in input order.
func (m *MultiLabel) Labels() []Label { return m.labels }

// Len returns the number of member labels.
func (m *MultiLabel) Len() int { return len(m.labels) }

// Query returns the shared question.
func (m *MultiLabel) Query() string { return m.query }

// Filters returns the scope of the first member.
func (m *MultiLabel) Filters() map[string]any { return m.filters }

// NoAnswer is true iff every member is a no-answer label.
func (m *MultiLabel) NoAnswer() bool { return m.noAnswer }

// Answers returns distinct answer texts, or [""] for a no-answer group.
func (m *MultiLabel) Answers() []string { return m.answers }

// OffsetsInDocuments returns the answer spans of answered members.
func (m *MultiLabel) OffsetsInDocuments() []Span { return m.offsets }

// DocumentIDs returns the document ids of members that have an answer.
func (m *MultiLabel) DocumentIDs() []string { return m.docIDs }

// Contexts returns the document contents of members that have an answer.
func (m *MultiLabel) Contexts() []string { return m.contexts }
