package dispatcher

import (
	"encoding/json"
	"testing"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	c := &model.Customer{
		Name:        "Ada",
		Email:       "ada@example.com",
		TotalSpend:  1250.5,
		TotalVisits: 7,
		Attributes:  json.RawMessage(`{"city":"Oslo","tier":2,"name":"ignored"}`),
	}

	cases := []struct{ tmpl, want string }{
		{"Hi {{name}}!", "Hi Ada!"},
		{"{{ name }} from {{city}} tier {{tier}}", "Ada from Oslo tier 2"},
		{"spent {{totalSpend}} in {{totalVisits}} visits", "spent 1250.5 in 7 visits"},
		{"mail {{email}}, phone '{{phone}}'", "mail ada@example.com, phone ''"},
		{"keep {{unknown}} as is", "keep {{unknown}} as is"},
		{"no placeholders", "no placeholders"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Render(tc.tmpl, c), tc.tmpl)
	}
}

func TestRender_NameFallback(t *testing.T) {
	require.Equal(t, "Hi Customer", Render("Hi {{name}}", &model.Customer{Name: "  "}))
	require.Equal(t, "Hi Customer", Render("Hi {{name}}", nil))
}

func TestRender_BadAttributesIgnored(t *testing.T) {
	c := &model.Customer{Name: "Bob", Attributes: json.RawMessage(`[1,2]`)}
	require.Equal(t, "Bob {{city}}", Render("{{name}} {{city}}", c))
}
