package serialization

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

const (
	// StringTypeName is the builtin type name for plain string payloads.
	StringTypeName = "string"
	// MetaDataTypeName is the builtin type name for event metadata maps.
	MetaDataTypeName = "mnemodb.metadata"
)

// JSONSerializer serializes values as JSON. Payload types must be registered
// under a stable logical name before they can be serialized or deserialized;
// plain strings and metadata maps are handled without registration.
type JSONSerializer struct {
	mu      sync.RWMutex
	byName  map[string]registration
	byType  map[reflect.Type]registration
}

type registration struct {
	name     string
	revision string
	typ      reflect.Type
}

func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		byName: make(map[string]registration),
		byType: make(map[reflect.Type]registration),
	}
}

// Register binds a logical type name and revision to the concrete type of
// the given prototype value.
func (s *JSONSerializer) Register(name, revision string, prototype interface{}) {
	typ := reflect.TypeOf(prototype)
	reg := registration{name: name, revision: revision, typ: typ}
	s.mu.Lock()
	s.byName[name] = reg
	s.byType[typ] = reg
	s.mu.Unlock()
}

func (s *JSONSerializer) Serialize(v interface{}) (SerializedObject, error) {
	t, err := s.TypeForValue(v)
	if err != nil {
		return SerializedObject{}, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return SerializedObject{}, errors.Wrapf(err, "failed to serialize value of type %s", t)
	}
	return SerializedObject{Type: t, Data: data}, nil
}

func (s *JSONSerializer) Deserialize(obj SerializedObject) (interface{}, error) {
	switch obj.Type.Name {
	case StringTypeName:
		var v string
		if err := json.Unmarshal(obj.Data, &v); err != nil {
			return nil, errors.Wrap(err, "failed to deserialize string payload")
		}
		return v, nil
	case MetaDataTypeName:
		v := make(map[string]interface{})
		if err := json.Unmarshal(obj.Data, &v); err != nil {
			return nil, errors.Wrap(err, "failed to deserialize metadata")
		}
		return v, nil
	}

	s.mu.RLock()
	reg, ok := s.byName[obj.Type.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, &UnknownSerializedTypeError{Type: obj.Type}
	}
	ptr := reflect.New(reg.typ)
	if err := json.Unmarshal(obj.Data, ptr.Interface()); err != nil {
		return nil, errors.Wrapf(err, "failed to deserialize payload of type %s", obj.Type)
	}
	return ptr.Elem().Interface(), nil
}

func (s *JSONSerializer) ClassForType(t SerializedType) (reflect.Type, error) {
	switch t.Name {
	case StringTypeName:
		return reflect.TypeOf(""), nil
	case MetaDataTypeName:
		return reflect.TypeOf(map[string]interface{}{}), nil
	}
	s.mu.RLock()
	reg, ok := s.byName[t.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, &UnknownSerializedTypeError{Type: t}
	}
	return reg.typ, nil
}

func (s *JSONSerializer) TypeForValue(v interface{}) (SerializedType, error) {
	switch v.(type) {
	case string:
		return SerializedType{Name: StringTypeName}, nil
	case map[string]interface{}:
		return SerializedType{Name: MetaDataTypeName}, nil
	}
	s.mu.RLock()
	reg, ok := s.byType[reflect.TypeOf(v)]
	s.mu.RUnlock()
	if !ok {
		return SerializedType{}, errors.Errorf("type %T is not registered with the serializer", v)
	}
	return SerializedType{Name: reg.name, Revision: reg.revision}, nil
}
