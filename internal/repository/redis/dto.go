package redis

import (
	"encoding/json"
	"fmt"
	"math"

	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// jsonDoc is the RedisJSON layout of a document. The vector is omitted when
// absent so RediSearch does not index an empty embedding.
type jsonDoc struct {
	ID        string         `json:"__id"`
	Content   string         `json:"__content"`
	Vector    []float32      `json:"__vector,omitempty"`
	HasVector int            `json:"__has_vector"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func toJSONDoc(d *domdoc.Document) jsonDoc {
	j := jsonDoc{ID: d.ID(), Content: d.Content(), Meta: d.Meta()}
	if d.HasEmbedding() {
		j.Vector = d.Embedding()
		j.HasVector = 1
	}
	return j
}

func decodeDoc(raw []byte) (jsonDoc, error) {
	var j jsonDoc
	if err := json.Unmarshal(raw, &j); err != nil {
		return jsonDoc{}, fmt.Errorf("decode document: %w", err)
	}
	return j, nil
}

func (j *jsonDoc) document(withEmbedding bool) domdoc.Document {
	var emb []float32
	if withEmbedding && len(j.Vector) > 0 {
		emb = j.Vector
	}
	return domdoc.Reconstruct(j.ID, j.Content, j.Meta, emb)
}

// rawScore turns a RediSearch distance into the similarity the metric defines:
// COSINE and IP report 1-x, L2 reports the squared Euclidean distance.
func (r *Repo) rawScore(distance float64) float64 {
	if r.metric == similarity.L2 {
		return -math.Sqrt(max(distance, 0))
	}
	return 1 - distance
}
