// Package function 提供命名空间化的函数注册表
// 模型只能通过目录（Catalog）看到函数，通过 Invoke 调用函数
package function

import (
	"context"
)

// ParamType 参数类型
// 只支持少量基础类型，保证与外部推理引擎兼容
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeEnum    ParamType = "enum"
)

// ParamSpec 参数描述
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Enum        []string  `json:"enum,omitempty"` // 仅 TypeEnum 使用
}

// Descriptor 函数描述
// Name 在同一命名空间内唯一；Parameters 保持声明顺序
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters,omitempty"`
}

// Implementation 函数实现
// args 已经过 schema 校验；返回值原样交给调用方
type Implementation func(ctx context.Context, args map[string]any) (any, error)

// Entry 目录条目
type Entry struct {
	Namespace  string     `json:"namespace"`
	Descriptor Descriptor `json:"descriptor"`
}

// QualifiedNameSeparator 命名空间与函数名的分隔符
// 工具名只允许 [A-Za-z0-9_-]，所以不能用 "."
const QualifiedNameSeparator = "-"

// QualifiedName 返回带命名空间前缀的函数名，如 "lights-change_state"
func (e Entry) QualifiedName() string {
	return QualifiedName(e.Namespace, e.Descriptor.Name)
}

// QualifiedName 拼接命名空间与函数名
func QualifiedName(namespace, name string) string {
	return namespace + QualifiedNameSeparator + name
}

// clone 深拷贝描述，避免调用方修改注册表内部状态
func (d Descriptor) clone() Descriptor {
	out := d
	if d.Parameters != nil {
		out.Parameters = make([]ParamSpec, len(d.Parameters))
		for i, p := range d.Parameters {
			if p.Enum != nil {
				p.Enum = append([]string(nil), p.Enum...)
			}
			out.Parameters[i] = p
		}
	}
	return out
}

// String 参数
func String(name, description string, required bool) ParamSpec {
	return ParamSpec{Name: name, Type: TypeString, Description: description, Required: required}
}

// Number 参数
func Number(name, description string, required bool) ParamSpec {
	return ParamSpec{Name: name, Type: TypeNumber, Description: description, Required: required}
}

// Boolean 参数
func Boolean(name, description string, required bool) ParamSpec {
	return ParamSpec{Name: name, Type: TypeBoolean, Description: description, Required: required}
}

// Enum 参数
func Enum(name, description string, required bool, values ...string) ParamSpec {
	return ParamSpec{Name: name, Type: TypeEnum, Description: description, Required: required, Enum: values}
}
