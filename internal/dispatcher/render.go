package dispatcher

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/valyala/fasttemplate"
)

const defaultName = "Customer"

// Render substitutes {{tag}} placeholders with customer fields. Known tags are
// name, email, phone, totalSpend, totalVisits and any top-level attribute key;
// unknown tags are left in place.
func Render(tmpl string, c *model.Customer) string {
	vars := templateVars(c)
	return fasttemplate.ExecuteFuncString(tmpl, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		if v, ok := vars[strings.TrimSpace(tag)]; ok {
			return io.WriteString(w, v)
		}
		return io.WriteString(w, "{{"+tag+"}}")
	})
}

func templateVars(c *model.Customer) map[string]string {
	vars := map[string]string{"name": defaultName}
	if c == nil {
		return vars
	}

	if len(c.Attributes) > 0 {
		var attrs map[string]any
		if err := json.Unmarshal(c.Attributes, &attrs); err == nil {
			for k, v := range attrs {
				vars[k] = attrString(v)
			}
		}
	}

	if n := strings.TrimSpace(c.Name); n != "" {
		vars["name"] = n
	} else {
		vars["name"] = defaultName
	}
	vars["email"] = c.Email
	vars["phone"] = c.Phone
	vars["totalSpend"] = strconv.FormatFloat(c.TotalSpend, 'f', -1, 64)
	vars["totalVisits"] = strconv.FormatInt(c.TotalVisits, 10)
	return vars
}

func attrString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
