package label

import "maps"

// FilterFields is the flat view labels are filtered on: label meta plus the
// top-level annotation fields, which take precedence on name clashes.
func FilterFields(l *Label) map[string]any {
	out := make(map[string]any, len(l.meta)+7)
	maps.Copy(out, l.meta)
	out["query"] = l.query
	out["origin"] = l.origin
	out["no_answer"] = l.noAnswer
	out["is_correct_answer"] = l.isCorrectAnswer
	out["is_correct_document"] = l.isCorrectDocument
	out["document_id"] = l.document.ID()
	if l.answer != nil {
		out["answer"] = l.answer.Text
	}
	return out
}
