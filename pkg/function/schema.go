package function

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/xeipuuv/gojsonschema"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateDescriptor 校验函数描述
func ValidateDescriptor(d Descriptor) error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("%w: name %q must match %s", ErrInvalidDescriptor, d.Name, namePattern)
	}

	seen := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if !namePattern.MatchString(p.Name) {
			return fmt.Errorf("%w: %s: parameter name %q must match %s", ErrInvalidDescriptor, d.Name, p.Name, namePattern)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s: duplicate parameter %q", ErrInvalidDescriptor, d.Name, p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case TypeString, TypeNumber, TypeBoolean:
			if len(p.Enum) > 0 {
				return fmt.Errorf("%w: %s: parameter %q of type %s cannot list enum values", ErrInvalidDescriptor, d.Name, p.Name, p.Type)
			}
		case TypeEnum:
			if len(p.Enum) == 0 {
				return fmt.Errorf("%w: %s: enum parameter %q needs at least one value", ErrInvalidDescriptor, d.Name, p.Name)
			}
		default:
			return fmt.Errorf("%w: %s: parameter %q has unsupported type %q", ErrInvalidDescriptor, d.Name, p.Name, p.Type)
		}
	}
	return nil
}

// JSONSchema 生成描述对应的 JSON Schema（object 类型）
// 同一份 schema 既发给模型，也用于 Invoke 时的参数校验
func JSONSchema(d Descriptor) map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))

	for _, p := range d.Parameters {
		prop := map[string]any{}
		switch p.Type {
		case TypeEnum:
			prop["type"] = "string"
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		default:
			prop["type"] = string(p.Type)
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// compileSchema 预编译校验用的 schema
func compileSchema(d Descriptor) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(JSONSchema(d)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, d.Name, err)
	}
	return schema, nil
}

// validateArgs 使用预编译的 schema 校验参数
// 返回 nil 表示通过
func validateArgs(schema *gojsonschema.Schema, qualified string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		// 参数无法编码为 JSON（如 channel、func），同样视为参数错误
		return &ArgumentValidationError{Function: qualified, Problems: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		if field := re.Field(); field != "" && field != "(root)" {
			problems = append(problems, field+": "+re.Description())
		} else {
			problems = append(problems, re.Description())
		}
	}
	sort.Strings(problems)

	return &ArgumentValidationError{Function: qualified, Problems: problems}
}

// Decode 将已校验的参数解码到结构体
// 使用 json tag 作为字段名，数字会按目标字段类型转换
func Decode(args map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(args)
}
