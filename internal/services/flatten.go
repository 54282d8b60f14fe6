package services

// Entity is one node of an extraction service's entity tree, decoupled from
// any specific response shape. A node either carries a leaf value or nested
// child entities.
type Entity struct {
	Name     string
	Value    string
	Children []Entity
}

// FlattenEntities converts an entity tree into a flat field-name→value map.
// Structured sub-entities become nested maps under their parent field name.
// Duplicate sibling names are last-write-wins. A leaf with no text maps to
// nil so the absence survives JSON round-trips.
func FlattenEntities(entities []Entity) map[string]any {
	data := make(map[string]any, len(entities))
	for _, entity := range entities {
		if len(entity.Children) > 0 {
			data[entity.Name] = FlattenEntities(entity.Children)
			continue
		}
		if entity.Value != "" {
			data[entity.Name] = entity.Value
		} else {
			data[entity.Name] = nil
		}
	}
	return data
}
