package template

import (
	"encoding/json"
	"html/template"

	"github.com/Masterminds/sprig/v3"
)

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func funcMap() template.FuncMap {
	fm := sprig.HtmlFuncMap()
	fm["toJSON"] = toJSON
	return fm
}
