package upcasting

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowflk/mnemodb/eventstore/serialization"
)

type renamingUpcaster struct {
	from, to string
}

func (u renamingUpcaster) CanUpcast(t serialization.SerializedType) bool {
	return t.Name == u.from
}

func (u renamingUpcaster) Upcast(obj serialization.SerializedObject, _ Context) ([]serialization.SerializedObject, error) {
	obj.Type.Name = u.to
	return []serialization.SerializedObject{obj}, nil
}

type splittingUpcaster struct {
	accepts string
}

func (u splittingUpcaster) CanUpcast(t serialization.SerializedType) bool {
	return t.Name == u.accepts
}

func (u splittingUpcaster) Upcast(obj serialization.SerializedObject, _ Context) ([]serialization.SerializedObject, error) {
	left, right := obj, obj
	left.Type.Name = obj.Type.Name + ".left"
	right.Type.Name = obj.Type.Name + ".right"
	return []serialization.SerializedObject{left, right}, nil
}

type droppingUpcaster struct {
	accepts string
}

func (u droppingUpcaster) CanUpcast(t serialization.SerializedType) bool {
	return t.Name == u.accepts
}

func (u droppingUpcaster) Upcast(serialization.SerializedObject, Context) ([]serialization.SerializedObject, error) {
	return nil, nil
}

func obj(name string) serialization.SerializedObject {
	return serialization.SerializedObject{
		Type: serialization.SerializedType{Name: name, Revision: "1"},
		Data: []byte(`{}`),
	}
}

func TestIdentityPassesThrough(t *testing.T) {
	out, err := Identity().Upcast(obj("a"), Context{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Type.Name)
}

func TestChainAppliesUpcastersInOrder(t *testing.T) {
	c := NewChain(
		renamingUpcaster{from: "a", to: "b"},
		renamingUpcaster{from: "b", to: "c"},
	)
	out, err := c.Upcast(obj("a"), Context{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].Type.Name)
}

func TestChainPassesUnacceptedTypesThrough(t *testing.T) {
	c := NewChain(renamingUpcaster{from: "a", to: "b"})
	out, err := c.Upcast(obj("x"), Context{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "x", out[0].Type.Name)
}

func TestChainFansOut(t *testing.T) {
	c := NewChain(
		splittingUpcaster{accepts: "a"},
		renamingUpcaster{from: "a.left", to: "renamed"},
	)
	out, err := c.Upcast(obj("a"), Context{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "renamed", out[0].Type.Name)
	assert.Equal(t, "a.right", out[1].Type.Name)
}

func TestChainFiltersEventsAway(t *testing.T) {
	c := NewChain(droppingUpcaster{accepts: "obsolete"})
	out, err := c.Upcast(obj("obsolete"), Context{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

type failingUpcaster struct{}

func (failingUpcaster) CanUpcast(serialization.SerializedType) bool { return true }

func (failingUpcaster) Upcast(serialization.SerializedObject, Context) ([]serialization.SerializedObject, error) {
	return nil, errors.New("migration failed")
}

func TestChainPropagatesUpcasterErrors(t *testing.T) {
	c := NewChain(failingUpcaster{})
	_, err := c.Upcast(obj("a"), Context{})
	assert.Error(t, err)
}
