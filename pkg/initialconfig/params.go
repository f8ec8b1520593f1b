package initialconfig

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/muzin/wechatapi-sub000/pkg/utils"

	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
)

type ConfigType int

const (
	ConfigTypeLocal ConfigType = iota
	ConfigTypeGlobal
	ConfigTypeDiscovery
)

// Embedded structs with these names switch the config type of their fields
const (
	globalSectionName    = "GlobalConfig"
	discoverySectionName = "DiscoveryConfig"
)

// vaultPrefix marks a value which is a path in vault
const vaultPrefix = "vault:"

type EnvParams struct {
	Value         any
	ExternalValue any

	IsSecret bool
	// IsJson - slices, maps and structs, their consul value is json
	IsJson     bool
	ConfigType ConfigType
	// DiscoveryField is the env which receives addresses of the consul service named by this env
	DiscoveryField string
}

// Effective returns the value which should be written to the config
func (p *EnvParams) Effective() any {
	if p.IsSecret {
		return p.ExternalValue
	}
	return p.Value
}

type Envs map[string]*EnvParams

func (e Envs) SetValue(envName string, value any) {
	if p, ok := e[envName]; ok {
		p.Value = value
	}
}

func (e Envs) SetExternalValue(envName string, value any) {
	if p, ok := e[envName]; ok {
		p.ExternalValue = value
	}
}

// GetChangedEnvs returns sorted names of envs whose effective value differs in newEnvs
func (e Envs) GetChangedEnvs(newEnvs Envs) ([]string, error) {
	changed := make([]string, 0)

	for envName, newParams := range newEnvs {
		oldParams, ok := e[envName]
		if !ok {
			changed = append(changed, envName)
			continue
		}

		equal, err := jsonEqual(oldParams.Effective(), newParams.Effective())
		if err != nil {
			return nil, fmt.Errorf("compare env \"%s\": %w", envName, err)
		}

		if !equal {
			changed = append(changed, envName)
		}
	}

	for envName := range e {
		if _, ok := newEnvs[envName]; !ok && !utils.ExistInArray(changed, envName) {
			changed = append(changed, envName)
		}
	}

	sort.Strings(changed)
	return changed, nil
}

func jsonEqual(a, b any) (bool, error) {
	aj, err := json.Marshal(a)
	if err != nil {
		return false, err
	}

	bj, err := json.Marshal(b)
	if err != nil {
		return false, err
	}

	return string(aj) == string(bj), nil
}

// GetConfigParams walks every json tagged field of cfg
func GetConfigParams(cfg any) Envs {
	envs := make(Envs)

	v := reflect.Indirect(reflect.ValueOf(cfg))
	if v.Kind() != reflect.Struct {
		return envs
	}

	collectParams(v, ConfigTypeLocal, envs)

	return envs
}

func collectParams(v reflect.Value, configType ConfigType, envs Envs) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := jsonTagName(field)
		if tag == "" {
			if field.Type.Kind() != reflect.Struct {
				continue
			}

			fieldType := configType
			if field.Anonymous {
				switch field.Name {
				case globalSectionName:
					fieldType = ConfigTypeGlobal
				case discoverySectionName:
					fieldType = ConfigTypeDiscovery
				}
			}

			collectParams(v.Field(i), fieldType, envs)
			continue
		}

		envs[tag] = &EnvParams{
			Value:          v.Field(i).Interface(),
			IsSecret:       field.Tag.Get("secret") == "true",
			IsJson:         isJsonKind(field.Type),
			ConfigType:     configType,
			DiscoveryField: field.Tag.Get("discovery"),
		}
	}
}

func jsonTagName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

func isJsonKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Map, reflect.Struct, reflect.Array:
		return true
	default:
		return false
	}
}

func findFieldByJsonTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := jsonTagName(field)
		if name == tag {
			return v.Field(i), true
		}

		if name == "" && field.Type.Kind() == reflect.Struct {
			if res, ok := findFieldByJsonTag(v.Field(i), tag); ok {
				return res, true
			}
		}
	}

	return reflect.Value{}, false
}

// GetStructFieldValueByJsonTag returns nil when cfg has no field with the tag
func GetStructFieldValueByJsonTag(cfg any, tag string) any {
	if tag == "" {
		return nil
	}

	v := reflect.Indirect(reflect.ValueOf(cfg))
	if v.Kind() != reflect.Struct {
		return nil
	}

	field, ok := findFieldByJsonTag(v, tag)
	if !ok {
		return nil
	}

	return field.Interface()
}

// SetStructFieldValueByJsonTag writes value to the field of cfg tagged with tag.
// Strings are converted to the field type: numbers, bools and durations are parsed,
// slices, maps and structs are decoded from json.
func SetStructFieldValueByJsonTag(cfg any, envs Envs, tag string, value any) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config variable must be a pointer to struct")
	}

	if len(envs) == 0 {
		return fmt.Errorf("envs are empty")
	}

	if tag == "" {
		return fmt.Errorf("tag is empty")
	}

	if value == nil {
		return fmt.Errorf("value of \"%s\" is nil", tag)
	}

	if _, ok := envs[tag]; !ok {
		return fmt.Errorf("env \"%s\" is unknown", tag)
	}

	field, ok := findFieldByJsonTag(v.Elem(), tag)
	if !ok {
		return fmt.Errorf("config has no field with json tag \"%s\"", tag)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}

	if isJsonKind(field.Type()) {
		target := reflect.New(field.Type())

		if s, ok := value.(string); ok {
			if err := json.Unmarshal([]byte(s), target.Interface()); err != nil {
				return fmt.Errorf("decode json of \"%s\": %w", tag, err)
			}
		} else if err := utils.JsonToStruct(value, target.Interface()); err != nil {
			return fmt.Errorf("convert \"%s\": %w", tag, err)
		}

		field.Set(target.Elem())
		return nil
	}

	target := reflect.New(field.Type())
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           target.Interface(),
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(value); err != nil {
		return fmt.Errorf("decode \"%s\": %w", tag, err)
	}

	field.Set(target.Elem())
	return nil
}
