package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_WireFormat(t *testing.T) {
	raw := `{
		"operator": "or",
		"conditions": [
			{"field": "totalSpend", "operator": ">", "value": 10000},
			{"operator": "AND", "conditions": [
				{"field": "totalVisits", "operator": "<", "value": "3"},
				{"field": "lastActive", "operator": "<", "value": "2024-01-01"}
			]}
		]
	}`
	n, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, n.Group)
	require.Equal(t, Or, n.Group.Op)
	require.Len(t, n.Group.Children, 2)

	first := n.Group.Children[0].Condition
	require.NotNil(t, first)
	require.Equal(t, "totalSpend", first.Field)
	require.Equal(t, json.Number("10000"), first.Value)

	nested := n.Group.Children[1].Group
	require.NotNil(t, nested)
	require.Equal(t, And, nested.Op)
	require.Len(t, nested.Children, 2)

	res := Compile(n)
	require.False(t, res.Dropped())
	require.Equal(t, "(totalSpend > 10000 OR (totalVisits < 3 AND lastActive < 2024-01-01T00:00:00Z))", res.Predicate.String())
}

func TestParse_EmptyConditionsIsGroup(t *testing.T) {
	n, err := Parse([]byte(`{"operator":"AND","conditions":[]}`))
	require.NoError(t, err)
	require.NotNil(t, n.Group)
	require.Empty(t, n.Group.Children)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err)
	_, err = Parse([]byte("null"))
	require.Error(t, err)
	_, err = Parse([]byte(`{"operator":`))
	require.Error(t, err)
}

func TestNode_MarshalRoundTrip(t *testing.T) {
	n := AllOf(Cond("totalSpend", ">", 10), AnyOf(Cond("name", "=", "Ada")))
	b, err := json.Marshal(n)
	require.NoError(t, err)
	require.JSONEq(t, `{"operator":"AND","conditions":[{"field":"totalSpend","operator":">","value":10},{"operator":"OR","conditions":[{"field":"name","operator":"=","value":"Ada"}]}]}`, string(b))

	back, err := Parse(b)
	require.NoError(t, err)
	require.Equal(t, Compile(n).Predicate.String(), Compile(back).Predicate.String())
}
