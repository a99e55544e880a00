// Package modules names the functional areas of the dashboard that can be gated.
package modules

import (
	"strings"

	"golang.org/x/text/cases"
)

// Key identifies a protected functional area. The set is closed.
type Key string

// Dashboard module keys as stored in role_module_permissions.module_key.
const (
	Dashboard              Key = "Dashboard"
	SupplierManagement     Key = "Supplier Management"
	StoreManagement        Key = "Store Management"
	PurchaseOrders         Key = "Purchase Orders"
	PurchaseOrderApprovals Key = "Purchase Order Approvals"
	InventoryManagement    Key = "Inventory Management"
	QualityControl         Key = "Quality Control"
	CurrencyRates          Key = "Currency Rates"
	Reports                Key = "Reports"
	Administration         Key = "Administration"
	UserManagement         Key = "User Management"
	RoleManagement         Key = "Role Management"
	AllModules             Key = "All Modules"
)

var all = []Key{
	Dashboard,
	SupplierManagement,
	StoreManagement,
	PurchaseOrders,
	PurchaseOrderApprovals,
	InventoryManagement,
	QualityControl,
	CurrencyRates,
	Reports,
	Administration,
	UserManagement,
	RoleManagement,
	AllModules,
}

var lookup = buildLookup()

// fold applies Unicode case folding. Casers are stateful, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func buildLookup() map[string]Key {
	m := make(map[string]Key, len(all)*2)
	for _, k := range all {
		m[fold(string(k))] = k
		m[k.Slug()] = k
	}
	return m
}

// All returns every known module key in display order.
func All() []Key {
	out := make([]Key, len(all))
	copy(out, all)
	return out
}

// Valid reports whether k belongs to the closed set.
func (k Key) Valid() bool {
	for _, known := range all {
		if known == k {
			return true
		}
	}
	return false
}

// Slug returns the URL form of the key, e.g. "purchase-order-approvals".
func (k Key) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(k)), " ", "-")
}

func (k Key) String() string {
	return string(k)
}

// Parse resolves a label (case-insensitive) or slug into a Key.
func Parse(raw string) (Key, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	k, ok := lookup[fold(raw)]
	return k, ok
}
