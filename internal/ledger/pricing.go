package ledger

import "fmt"

// Package describes one purchasable recharge bundle. Amounts are in fen
// (1/100 yuan), matching the WeChat Pay wire unit.
type Package struct {
	ID      string
	Amount  int
	Credits int
	Desc    string
}

// priceTable is the fixed set of recharge bundles. Order creation and
// notification matching both resolve packages through it.
var priceTable = map[string]Package{
	"1":  {ID: "1", Amount: 100, Credits: 50, Desc: "1元50次"},
	"5":  {ID: "5", Amount: 500, Credits: 300, Desc: "5元300次"},
	"10": {ID: "10", Amount: 1000, Credits: 700, Desc: "10元700次"},
}

// packageOrder fixes menu display order; map iteration would shuffle it.
var packageOrder = []string{"1", "5", "10"}

// LookupPackage resolves a package id against the price table.
func LookupPackage(id string) (Package, error) {
	pkg, ok := priceTable[id]
	if !ok {
		return Package{}, fmt.Errorf("%w: %q", ErrUnknownPackage, id)
	}
	return pkg, nil
}

// Packages returns all bundles in display order.
func Packages() []Package {
	pkgs := make([]Package, 0, len(packageOrder))
	for _, id := range packageOrder {
		pkgs = append(pkgs, priceTable[id])
	}
	return pkgs
}
