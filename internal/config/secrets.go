package config

import (
	"net/url"
	"reflect"
)

const redacted = "***"

// RedactedConfig returns a deep copy of cfg that is safe to log. String
// fields tagged secret:"true" are masked; fields tagged secret:"url" keep
// their scheme and host but lose credentials and path.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	redactValue(reflect.ValueOf(&out).Elem())
	return out
}

func redactValue(v reflect.Value) {
	t := v.Type()
	for i := range t.NumField() {
		f := v.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.Struct:
			redactValue(f)
		case reflect.Slice:
			if !f.IsNil() {
				f.Set(reflect.AppendSlice(reflect.MakeSlice(f.Type(), 0, f.Len()), f))
			}
		case reflect.String:
			if f.String() == "" {
				continue
			}
			switch t.Field(i).Tag.Get("secret") {
			case "true":
				f.SetString(redacted)
			case "url":
				f.SetString(redactURL(f.String()))
			}
		}
	}
}

// redactURL masks a connection string down to scheme://host. Anything that
// does not parse as an absolute URL is masked entirely.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
