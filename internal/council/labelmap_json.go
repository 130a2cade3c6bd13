package council

import "encoding/json"

// labelMapJSON is the on-disk shape of a LabelMap: {"label_to_model": {...}}
// matching the teacher's Metadata.LabelToModel field name.
type labelMapJSON struct {
	LabelToModel map[Label]ModelId `json:"label_to_model"`
}

func marshalLabelMap(m *LabelMap) ([]byte, error) {
	return json.Marshal(labelMapJSON{LabelToModel: m.Entries()})
}

func unmarshalLabelMap(m *LabelMap, data []byte) error {
	var raw labelMapJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.toLabel = make(map[ModelId]Label, len(raw.LabelToModel))
	m.toModel = make(map[Label]ModelId, len(raw.LabelToModel))
	for label, model := range raw.LabelToModel {
		m.set(model, label)
	}
	return nil
}
