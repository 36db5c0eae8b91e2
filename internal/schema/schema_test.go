package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageInput struct {
	Content  string   `json:"content" jsonschema:"required,description=The message content to send"`
	Mentions []string `json:"mentions" jsonschema:"required,description=Participant names to mention"`
}

type eventInput struct {
	Content     string `json:"content" jsonschema:"required,description=Event content"`
	MessageType string `json:"message_type" jsonschema:"required,enum=thought,enum=error,enum=task"`
}

type pagingInput struct {
	Page     int `json:"page,omitempty" jsonschema:"default=1,description=Page number"`
	PageSize int `json:"page_size,omitempty" jsonschema:"description=Items per page"`
}

type roleInput struct {
	Name string `json:"name" jsonschema:"required"`
	Role string `json:"role,omitempty" jsonschema:"enum=owner,enum=admin,enum=member,default=member"`
}

type emptyInput struct{}

func TestGenerateProperties(t *testing.T) {
	schema := Generate[messageInput]()

	props, ok := schema.Properties.(map[string]any)
	require.True(t, ok, "Properties should be map[string]any")

	content, ok := props["content"].(map[string]any)
	require.True(t, ok, "content should exist")
	assert.Equal(t, "string", content["type"])
	assert.Equal(t, "The message content to send", content["description"])

	mentions, ok := props["mentions"].(map[string]any)
	require.True(t, ok, "mentions should exist")
	assert.Equal(t, "array", mentions["type"])

	assert.Contains(t, schema.Required, "content")
	assert.Contains(t, schema.Required, "mentions")
}

func TestGenerateEnum(t *testing.T) {
	schema := Generate[eventInput]()

	props, ok := schema.Properties.(map[string]any)
	require.True(t, ok)

	mt, ok := props["message_type"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"thought", "error", "task"}, mt["enum"])
}

func TestGenerateOptionalFields(t *testing.T) {
	schema := Generate[pagingInput]()

	assert.NotContains(t, schema.Required, "page")
	assert.NotContains(t, schema.Required, "page_size")

	props, ok := schema.Properties.(map[string]any)
	require.True(t, ok)

	page, ok := props["page"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "integer", page["type"])
	assert.Equal(t, "Page number", page["description"])
}

func TestGenerateDefaults(t *testing.T) {
	schema := Generate[roleInput]()

	props, ok := schema.Properties.(map[string]any)
	require.True(t, ok)

	role, ok := props["role"].(map[string]any)
	require.True(t, ok)
	assert.NotNil(t, role["default"])

	assert.Contains(t, schema.Required, "name")
	assert.NotContains(t, schema.Required, "role")
}

func TestGenerateMap(t *testing.T) {
	m := GenerateMap[messageInput]()

	assert.Equal(t, "object", m["type"])
	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "content")
	assert.Contains(t, props, "mentions")
	assert.ElementsMatch(t, []string{"content", "mentions"}, m["required"])
}

func TestGenerateMapEmptyStruct(t *testing.T) {
	m := GenerateMap[emptyInput]()
	assert.Equal(t, "object", m["type"])
	assert.NotContains(t, m, "required")
}

func TestGenerateJSONRoundtrip(t *testing.T) {
	schema := Generate[messageInput]()

	data, err := json.Marshal(schema)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "object", m["type"])
	assert.NotNil(t, m["properties"])
	assert.NotNil(t, m["required"])
}
