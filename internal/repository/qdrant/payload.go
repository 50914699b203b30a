package qdrant

import (
	"encoding/json"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/docstore/internal/domain"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
)

// toPoint builds the point of d. Metadata goes through a JSON round trip so
// the payload only holds JSON kinds, the same values a reader gets back.
func toPoint(d *domdoc.Document) (*qdrant.PointStruct, error) {
	meta := map[string]any{}
	if len(d.Meta()) > 0 {
		raw, err := json.Marshal(d.Meta())
		if err != nil {
			return nil, fmt.Errorf("encode meta of %s: %w: %w", d.ID(), domain.ErrConfiguration, err)
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("encode meta of %s: %w", d.ID(), err)
		}
	}

	payload, err := qdrant.TryValueMap(map[string]any{
		payloadID:        d.ID(),
		payloadContent:   d.Content(),
		payloadHasVector: d.HasEmbedding(),
		payloadMeta:      meta,
	})
	if err != nil {
		return nil, fmt.Errorf("payload of %s: %w: %w", d.ID(), domain.ErrConfiguration, err)
	}

	return &qdrant.PointStruct{
		Id:      pointID(d.ID()),
		Vectors: vectors(d.Embedding()),
		Payload: payload,
	}, nil
}

// vectors carries the named vector, or none for a document without one.
func vectors(v []float32) *qdrant.Vectors {
	named := map[string]*qdrant.Vector{}
	if len(v) > 0 {
		named[vectorName] = qdrant.NewVector(v...)
	}
	return qdrant.NewVectorsMap(named)
}

// fromPayload rebuilds a document. The id comes from the payload since point
// ids are one-way hashes.
func fromPayload(payload map[string]*qdrant.Value, out *qdrant.VectorsOutput, withEmbedding bool) domdoc.Document {
	meta := metaOf(payload)
	if len(meta) == 0 {
		meta = nil
	}
	var emb []float32
	if withEmbedding {
		emb = denseVector(out)
	}
	return domdoc.Reconstruct(
		payload[payloadID].GetStringValue(),
		payload[payloadContent].GetStringValue(),
		meta,
		emb,
	)
}

func denseVector(out *qdrant.VectorsOutput) []float32 {
	v := out.GetVectors().GetVectors()[vectorName]
	if v == nil {
		return nil
	}
	if dense := v.GetDense(); dense != nil {
		return dense.GetData()
	}
	return v.GetData()
}

func metaOf(payload map[string]*qdrant.Value) map[string]any {
	meta, _ := fromValue(payload[payloadMeta]).(map[string]any)
	return meta
}

func fromValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_StructValue:
		fields := k.StructValue.GetFields()
		m := make(map[string]any, len(fields))
		for key, field := range fields {
			m[key] = fromValue(field)
		}
		return m
	case *qdrant.Value_ListValue:
		values := k.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = fromValue(item)
		}
		return list
	}
	return nil
}
