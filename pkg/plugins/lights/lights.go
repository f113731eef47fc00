// Package lights 提供灯光控制示例插件
package lights

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/KodaTao/PluginKernel/pkg/function"
)

// Namespace 插件命名空间
const Namespace = "lights"

// Light 灯的状态
type Light struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	On   bool   `json:"on"`
}

// Plugin 灯光插件
type Plugin struct {
	mu     sync.Mutex
	lights []Light
}

// DefaultLights 默认灯光
func DefaultLights() []Light {
	return []Light{
		{ID: 1, Name: "Table Lamp", On: false},
		{ID: 2, Name: "Porch light", On: false},
		{ID: 3, Name: "Chandelier", On: true},
	}
}

// New 创建插件，不传灯光时使用默认灯光
func New(lights ...Light) *Plugin {
	if len(lights) == 0 {
		lights = DefaultLights()
	}
	return &Plugin{lights: append([]Light(nil), lights...)}
}

// Register 注册插件函数
func (p *Plugin) Register(r *function.Registry) error {
	if err := r.Register(Namespace, function.Descriptor{
		Name:        "get_lights",
		Description: "Gets a list of lights and their current state.",
	}, p.getLights); err != nil {
		return err
	}

	return r.Register(Namespace, function.Descriptor{
		Name:        "change_state",
		Description: "Changes the state of the light.",
		Parameters: []function.ParamSpec{
			function.String("id", "The id or the name of the light.", true),
			function.Boolean("on", "Whether the light should be on.", true),
		},
	}, p.changeState)
}

// Lights 返回当前灯光状态
func (p *Plugin) Lights() []Light {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Light(nil), p.lights...)
}

// ChangeState 修改灯的状态，id 可以是编号或名称
func (p *Plugin) ChangeState(id string, on bool) (Light, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.lights {
		if matches(p.lights[i], id) {
			p.lights[i].On = on
			return p.lights[i], nil
		}
	}
	return Light{}, fmt.Errorf("light %q not found", id)
}

func matches(l Light, id string) bool {
	if n, err := strconv.Atoi(strings.TrimSpace(id)); err == nil {
		return l.ID == n
	}
	return strings.EqualFold(l.Name, strings.TrimSpace(id))
}

func (p *Plugin) getLights(ctx context.Context, args map[string]any) (any, error) {
	return p.Lights(), nil
}

type changeStateArgs struct {
	ID string `json:"id"`
	On bool   `json:"on"`
}

func (p *Plugin) changeState(ctx context.Context, args map[string]any) (any, error) {
	var a changeStateArgs
	if err := function.Decode(args, &a); err != nil {
		return nil, err
	}
	return p.ChangeState(a.ID, a.On)
}
