package eventsourced

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// MetadataType is the type tag used when serializing message metadata.
const MetadataType = "eventsourced.metadata"

// Serializer converts payloads and metadata to their storable form and back.
// Implementations must round-trip: Deserialize(tag, Serialize(x)) equals x.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(typeTag string, data []byte) (any, error)
}

// JSONSerializer encodes values as JSON and resolves payload type tags
// through a Registry.
type JSONSerializer struct {
	registry *Registry
}

// NewJSONSerializer returns a serializer resolving events from registry. A nil
// registry selects the DefaultRegistry.
func NewJSONSerializer(registry *Registry) *JSONSerializer {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &JSONSerializer{registry: registry}
}

func (s *JSONSerializer) Serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize %T: %w", v, err)
	}
	return data, nil
}

func (s *JSONSerializer) Deserialize(typeTag string, data []byte) (any, error) {
	if typeTag == MetadataType {
		md := map[string]string{}
		if len(data) == 0 {
			return md, nil
		}
		if err := json.Unmarshal(data, &md); err != nil {
			return nil, fmt.Errorf("deserialize metadata: %w", err)
		}
		return md, nil
	}

	ev, err := s.registry.New(typeTag)
	if err != nil {
		return nil, err
	}

	// Decode into a pointer to the factory's value so that both value and
	// pointer event types are supported.
	ptr := reflect.New(reflect.TypeOf(ev))
	ptr.Elem().Set(reflect.ValueOf(ev))
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("deserialize event %q: %w", typeTag, err)
	}
	return ptr.Elem().Interface(), nil
}
