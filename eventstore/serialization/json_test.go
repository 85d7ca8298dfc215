package serialization

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accountCredited struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func TestSerializeRegisteredType(t *testing.T) {
	s := NewJSONSerializer()
	s.Register("bank.AccountCredited", "2", accountCredited{})

	obj, err := s.Serialize(accountCredited{Amount: 250, Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, SerializedType{Name: "bank.AccountCredited", Revision: "2"}, obj.Type)
	assert.JSONEq(t, `{"amount":250,"currency":"EUR"}`, string(obj.Data))

	v, err := s.Deserialize(obj)
	require.NoError(t, err)
	assert.Equal(t, accountCredited{Amount: 250, Currency: "EUR"}, v)
}

func TestSerializeUnregisteredTypeFails(t *testing.T) {
	s := NewJSONSerializer()
	_, err := s.Serialize(accountCredited{})
	assert.Error(t, err)
}

func TestStringPayloadNeedsNoRegistration(t *testing.T) {
	s := NewJSONSerializer()
	obj, err := s.Serialize("plain payload")
	require.NoError(t, err)
	assert.Equal(t, StringTypeName, obj.Type.Name)

	v, err := s.Deserialize(obj)
	require.NoError(t, err)
	assert.Equal(t, "plain payload", v)
}

func TestMetaDataNeedsNoRegistration(t *testing.T) {
	s := NewJSONSerializer()
	obj, err := s.Serialize(map[string]interface{}{"traceId": "abc"})
	require.NoError(t, err)
	assert.Equal(t, MetaDataTypeName, obj.Type.Name)

	v, err := s.Deserialize(obj)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"traceId": "abc"}, v)
}

func TestDeserializeUnknownType(t *testing.T) {
	s := NewJSONSerializer()
	_, err := s.Deserialize(SerializedObject{
		Type: SerializedType{Name: "gone.Type", Revision: "1"},
		Data: []byte(`{}`),
	})
	require.Error(t, err)
	assert.True(t, IsUnknownSerializedType(err))

	var unknown *UnknownSerializedTypeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "gone.Type", unknown.Type.Name)
}

func TestUnknownTypeSurvivesWrapping(t *testing.T) {
	s := NewJSONSerializer()
	_, err := s.Deserialize(SerializedObject{Type: SerializedType{Name: "gone.Type"}})
	wrapped := errors.Wrap(err, "reading event")
	assert.True(t, IsUnknownSerializedType(wrapped))
}

func TestClassForType(t *testing.T) {
	s := NewJSONSerializer()
	s.Register("bank.AccountCredited", "2", accountCredited{})

	typ, err := s.ClassForType(SerializedType{Name: "bank.AccountCredited", Revision: "2"})
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(accountCredited{}), typ)

	typ, err = s.ClassForType(SerializedType{Name: StringTypeName})
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(""), typ)

	_, err = s.ClassForType(SerializedType{Name: "gone.Type"})
	assert.True(t, IsUnknownSerializedType(err))
}

func TestTypeForValue(t *testing.T) {
	s := NewJSONSerializer()
	s.Register("bank.AccountCredited", "2", accountCredited{})

	typ, err := s.TypeForValue(accountCredited{})
	require.NoError(t, err)
	assert.Equal(t, SerializedType{Name: "bank.AccountCredited", Revision: "2"}, typ)

	typ, err = s.TypeForValue("anything")
	require.NoError(t, err)
	assert.Equal(t, StringTypeName, typ.Name)
}
