package logd

import (
	"fmt"
	"strings"
)

// settings derived from a login profile, when not already set
var SettingKeys = []string{
	"name",
	"first_name",
	"last_name",
	"email",
	"phone",
	"locale",
	"location",
	"birthday",
	"gender",
	"timezone",
	"zoneinfo",
}

// a provider field mapping for one setting key. Either a path into the
// provider userinfo, or a function of the userinfo and the settings derived so far.
type settingSource struct {
	path   Path
	derive func(userinfo map[string]any, settings Settings) any
}

func fieldSource(path ...string) settingSource {
	return settingSource{path: Path(path)}
}

var providerSettingSources = map[string]map[string]settingSource{
	"facebook": {
		"location": fieldSource("location", "name"),
	},
	"google": {
		"first_name": fieldSource("given_name"),
		"last_name":  fieldSource("family_name"),
		"phone":      fieldSource("phone_number"),
		"location":   fieldSource("address", "formatted"),
	},
	"github": {},
	"linkedin": {
		"name":       fieldSource("formattedName"),
		"first_name": fieldSource("firstName"),
		"last_name":  fieldSource("lastName"),
		"email":      fieldSource("emailAddress"),
		"location":   fieldSource("location", "name"),
	},
	"twitter": {
		"timezone": {
			derive: func(userinfo map[string]any, settings Settings) any {
				switch v := userinfo["utc_offset"].(type) {
				case float64:
					return v / 3600
				case int:
					return float64(v) / 3600
				case int64:
					return float64(v) / 3600
				default:
					return nil
				}
			},
		},
	},
}

// fills missing settings from the profile's `userinfo`, using the field mapping of the
// profile's `provider`. Unknown providers use the userinfo keys as is.
// `settings` is modified in place and returned. The delegate may extend the result.
func DefaultSettings(profile Profile, settings Settings, delegate Delegate) Settings {
	if settings == nil {
		settings = Settings{}
	}
	if profile == nil {
		return settings
	}

	userinfo, _ := profile["userinfo"].(map[string]any)
	if userinfo == nil {
		userinfo = map[string]any{}
	}
	provider, _ := profile["provider"].(string)
	sources := providerSettingSources[provider]

	for _, key := range SettingKeys {
		if settings[key] != nil {
			continue
		}
		var value any
		if source, ok := sources[key]; ok {
			if source.derive != nil {
				value = source.derive(userinfo, settings)
			} else {
				value = lookup(userinfo, source.path)
			}
		} else {
			value = userinfo[key]
			if value == nil {
				switch key {
				case "first_name":
					value = namePart(settings["name"], 0)
				case "last_name":
					value = namePart(settings["name"], 1)
				}
			}
		}
		if value != nil {
			settings[key] = value
		}
	}

	if settings["name"] == nil {
		first, _ := settings["first_name"].(string)
		last, _ := settings["last_name"].(string)
		if first != "" && last != "" {
			settings["name"] = fmt.Sprintf("%s %s", first, last)
		} else if first != "" {
			settings["name"] = first
		}
	}

	if delegate != nil {
		delegate.ExtendSettings(profile, settings)
	}
	return settings
}

func lookup(value any, path Path) any {
	for _, key := range path {
		m, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		value = m[key]
	}
	return value
}

// the i-th whitespace separated part of a name, or nil
func namePart(name any, i int) any {
	s, ok := name.(string)
	if !ok {
		return nil
	}
	parts := strings.Fields(s)
	if i < len(parts) {
		return parts[i]
	}
	return nil
}
