// Package menu 提供餐厅菜单示例插件
package menu

import (
	"context"

	"github.com/KodaTao/PluginKernel/pkg/function"
)

// Namespace 插件命名空间
const Namespace = "menu"

// Specials 今日特价
const Specials = `
Special Soup: Clam Chowder
Special Salad: Cobb Salad
Special Drink: Chai Tea
`

// ItemPrice 所有菜品统一价格
const ItemPrice = "$9.99"

// Register 注册菜单函数
func Register(r *function.Registry) error {
	if err := r.Register(Namespace, function.Descriptor{
		Name:        "get_specials",
		Description: "Provides a list of specials from the menu.",
	}, getSpecials); err != nil {
		return err
	}

	return r.Register(Namespace, function.Descriptor{
		Name:        "get_item_price",
		Description: "Provides the price of the requested menu item.",
		Parameters: []function.ParamSpec{
			function.String("menu_item", "The name of the menu item.", true),
		},
	}, getItemPrice)
}

func getSpecials(ctx context.Context, args map[string]any) (any, error) {
	return Specials, nil
}

func getItemPrice(ctx context.Context, args map[string]any) (any, error) {
	return ItemPrice, nil
}
