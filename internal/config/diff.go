package config

import (
	"encoding/json"
	"reflect"
)

// hotSections apply without a restart.
var hotSections = map[string]bool{"logging": true, "scheduler": true, "engine": true, "handoff": true, "alerts": true}

// Changes lists the top-level sections that differ between a and b, in
// file order.
func Changes(a, b *Config) []string {
	if a == nil {
		a = &Config{}
	}
	if b == nil {
		b = &Config{}
	}
	va, vb := reflect.ValueOf(*a), reflect.ValueOf(*b)
	t := va.Type()
	var out []string
	for i := 0; i < t.NumField(); i++ {
		ja, _ := json.Marshal(va.Field(i).Interface())
		jb, _ := json.Marshal(vb.Field(i).Interface())
		if string(ja) != string(jb) {
			out = append(out, sectionName(t.Field(i)))
		}
	}
	return out
}

// RestartRequired filters changes down to sections that are read only at
// startup.
func RestartRequired(changes []string) []string {
	var out []string
	for _, c := range changes {
		if !hotSections[c] {
			out = append(out, c)
		}
	}
	return out
}

func sectionName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i]
		}
	}
	if tag == "" {
		return f.Name
	}
	return tag
}
