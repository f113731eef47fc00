package function

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/KodaTao/PluginKernel/pkg/observability"
)

// Registry 函数注册表
// 写操作（Register/Unregister）由互斥锁串行化，每次写入生成新的只读快照；
// 读操作（Catalog/Invoke/Get）只读取快照，不加锁
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[snapshot]
	executor *Executor
}

// registered 注册表内部条目
type registered struct {
	entry  Entry
	impl   Implementation
	schema *gojsonschema.Schema
}

// snapshot 不可变快照，创建后不再修改
type snapshot struct {
	ordered []*registered                     // 按注册顺序
	index   map[string]map[string]*registered // namespace -> name -> entry
}

// Option 注册表选项
type Option func(*Registry)

// WithTimeout 设置单次调用超时
func WithTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		r.executor = NewExecutor(timeout)
	}
}

// NewRegistry 创建新的注册表
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{executor: NewExecutor(DefaultTimeout)}
	for _, opt := range opts {
		opt(r)
	}
	r.snapshot.Store(&snapshot{index: map[string]map[string]*registered{}})
	return r
}

// Register 注册一个函数
// (namespace, descriptor.Name) 已存在时返回 ErrDuplicateName，原条目不变
func (r *Registry) Register(namespace string, descriptor Descriptor, impl Implementation) error {
	if namespace == "" {
		return ErrEmptyNamespace
	}
	if !namePattern.MatchString(namespace) {
		return fmt.Errorf("%w: namespace %q must match %s", ErrInvalidDescriptor, namespace, namePattern)
	}
	if impl == nil {
		return ErrNilImplementation
	}
	if err := ValidateDescriptor(descriptor); err != nil {
		return err
	}
	schema, err := compileSchema(descriptor)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.snapshot.Load()
	if _, ok := current.index[namespace][descriptor.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, QualifiedName(namespace, descriptor.Name))
	}

	item := &registered{
		entry:  Entry{Namespace: namespace, Descriptor: descriptor.clone()},
		impl:   impl,
		schema: schema,
	}

	next := &snapshot{
		ordered: make([]*registered, 0, len(current.ordered)+1),
		index:   make(map[string]map[string]*registered, len(current.index)+1),
	}
	next.ordered = append(next.ordered, current.ordered...)
	next.ordered = append(next.ordered, item)
	for ns, fns := range current.index {
		next.index[ns] = fns
	}
	// 只复制被修改的命名空间
	fns := make(map[string]*registered, len(current.index[namespace])+1)
	for name, it := range current.index[namespace] {
		fns[name] = it
	}
	fns[descriptor.Name] = item
	next.index[namespace] = fns

	r.snapshot.Store(next)

	observability.Info("Function registered", "namespace", namespace, "name", descriptor.Name)
	return nil
}

// Unregister 注销命名空间下的所有函数，返回注销数量
// 命名空间不存在时返回 0
func (r *Registry) Unregister(namespace string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.snapshot.Load()
	removed := len(current.index[namespace])
	if removed == 0 {
		return 0
	}

	next := &snapshot{
		ordered: make([]*registered, 0, len(current.ordered)-removed),
		index:   make(map[string]map[string]*registered, len(current.index)),
	}
	for _, it := range current.ordered {
		if it.entry.Namespace != namespace {
			next.ordered = append(next.ordered, it)
		}
	}
	for ns, fns := range current.index {
		if ns != namespace {
			next.index[ns] = fns
		}
	}

	r.snapshot.Store(next)

	observability.Info("Namespace unregistered", "namespace", namespace, "functions", removed)
	return removed
}

// Catalog 返回按注册顺序排列的目录快照
// 返回的切片归调用方所有
func (r *Registry) Catalog() []Entry {
	current := r.snapshot.Load()

	entries := make([]Entry, len(current.ordered))
	for i, it := range current.ordered {
		entries[i] = Entry{Namespace: it.entry.Namespace, Descriptor: it.entry.Descriptor.clone()}
	}
	return entries
}

// Get 获取指定函数的目录条目
func (r *Registry) Get(namespace, name string) (Entry, bool) {
	it, ok := r.snapshot.Load().index[namespace][name]
	if !ok {
		return Entry{}, false
	}
	return Entry{Namespace: it.entry.Namespace, Descriptor: it.entry.Descriptor.clone()}, true
}

// Lookup 将工具名（namespace-name）拆分为命名空间和函数名
// 只有已注册的函数才返回 true
func (r *Registry) Lookup(qualified string) (namespace, name string, ok bool) {
	namespace, name, found := strings.Cut(qualified, QualifiedNameSeparator)
	if !found {
		return "", "", false
	}
	if _, exists := r.snapshot.Load().index[namespace][name]; !exists {
		return "", "", false
	}
	return namespace, name, true
}

// Namespaces 返回当前所有命名空间（按首次注册顺序）
func (r *Registry) Namespaces() []string {
	current := r.snapshot.Load()
	seen := make(map[string]bool, len(current.index))
	var namespaces []string
	for _, it := range current.ordered {
		if !seen[it.entry.Namespace] {
			seen[it.entry.Namespace] = true
			namespaces = append(namespaces, it.entry.Namespace)
		}
	}
	return namespaces
}

// Count 返回已注册的函数数量
func (r *Registry) Count() int {
	return len(r.snapshot.Load().ordered)
}

// Invoke 校验参数并调用函数
// 未找到返回 ErrUnknownFunction；参数不符返回 *ArgumentValidationError；
// 实现失败返回 *FunctionExecutionError；成功时原样返回实现的结果
func (r *Registry) Invoke(ctx context.Context, namespace, name string, args map[string]any) (any, error) {
	it, ok := r.snapshot.Load().index[namespace][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, QualifiedName(namespace, name))
	}

	qualified := it.entry.QualifiedName()
	if err := validateArgs(it.schema, qualified, args); err != nil {
		observability.WarnContext(ctx, "Function arguments rejected", "function", qualified, "error", err)
		return nil, err
	}

	if args == nil {
		args = map[string]any{}
	}
	return r.executor.Execute(ctx, qualified, it.impl, args)
}
