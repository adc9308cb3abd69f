package fulfillment

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// MatchKind tells which vendor order reconciles a line delta
type MatchKind string

const (
	MatchNone   MatchKind = "none"
	MatchNew    MatchKind = "new"
	MatchReturn MatchKind = "return"
)

// LineMatch is the quantity delta of one platform order line.
type LineMatch struct {
	Line              OrderLine
	OfferID           string
	RequestedQuantity int
	PreviousQuantity  int
	Kind              MatchKind
	// Quantity is the amount to order (new) or to give back (return)
	Quantity int
}

// MatchLine computes the vendor action needed for one line. On a new
// purchase the whole requested quantity is ordered; otherwise the delta
// against the previous quantity decides between a new order, a return or
// nothing.
func MatchLine(line OrderLine, isNewPurchase bool) LineMatch {
	m := LineMatch{
		Line:              line,
		OfferID:           line.VendorSKU,
		RequestedQuantity: line.Quantity,
		PreviousQuantity:  line.OldQuantity,
		Kind:              MatchNone,
	}
	if isNewPurchase {
		if line.Quantity > 0 {
			m.Kind = MatchNew
			m.Quantity = line.Quantity
		}
		return m
	}

	delta := line.Quantity - line.OldQuantity
	switch {
	case delta > 0:
		m.Kind = MatchNew
		m.Quantity = delta
	case delta < 0:
		m.Kind = MatchReturn
		m.Quantity = line.OldQuantity - line.Quantity
	}
	return m
}

// MatchLines matches every line of the order. Purchase orders are treated
// as new purchases; termination orders return the whole previous quantity.
func MatchLines(order *PlatformOrder) []LineMatch {
	matches := make([]LineMatch, 0, len(order.Lines))
	for _, line := range order.Lines {
		if order.Type == OrderTypeTermination {
			line.Quantity = 0
		}
		matches = append(matches, MatchLine(line, order.Type == OrderTypePurchase))
	}
	return matches
}

// FilterMatches returns the matches of the given kind.
func FilterMatches(matches []LineMatch, kind MatchKind) []LineMatch {
	var out []LineMatch
	for _, m := range matches {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Transfer line check
// ---------------------------------------------------------------------------

type familyQuantity struct {
	family   string
	quantity int
}

func sortedFamilies(items []familyQuantity) []familyQuantity {
	slices.SortStableFunc(items, func(a, b familyQuantity) int {
		return cmp.Compare(a.family, b.family)
	})
	return items
}

// CheckTransferLines compares what the membership owns at the vendor with
// what the transfer order asks for. Both sides are reduced to SKU family
// and quantity, sorted by family and compared element-wise. On mismatch the
// reason names every family whose quantities differ, with the order's and
// the vendor's quantities side by side.
func CheckTransferLines(owned []LineItem, lines []OrderLine) (reason string, ok bool) {
	vendorSide := make([]familyQuantity, 0, len(owned))
	for _, item := range owned {
		vendorSide = append(vendorSide, familyQuantity{SKUFamily(item.OfferID), item.Quantity})
	}
	orderSide := make([]familyQuantity, 0, len(lines))
	for _, line := range lines {
		orderSide = append(orderSide, familyQuantity{SKUFamily(line.VendorSKU), line.Quantity})
	}

	vendorSide = sortedFamilies(vendorSide)
	orderSide = sortedFamilies(orderSide)
	if slices.Equal(vendorSide, orderSide) {
		return "", true
	}

	return fmt.Sprintf(
		"The items owned by the given membership don't match the order (sku or quantity): %s.",
		strings.Join(lineDiff(orderSide, vendorSide), "; "),
	), false
}

// lineDiff lists, by family, the quantities of both sides for every family
// present on only one side or with different quantities
func lineDiff(orderSide, vendorSide []familyQuantity) []string {
	byFamily := func(items []familyQuantity) map[string][]int {
		m := make(map[string][]int, len(items))
		for _, fq := range items {
			m[fq.family] = append(m[fq.family], fq.quantity)
		}
		for _, q := range m {
			slices.Sort(q)
		}
		return m
	}
	ordered, held := byFamily(orderSide), byFamily(vendorSide)

	families := make([]string, 0, len(ordered)+len(held))
	for f := range ordered {
		families = append(families, f)
	}
	for f := range held {
		if _, dup := ordered[f]; !dup {
			families = append(families, f)
		}
	}
	slices.Sort(families)

	diff := make([]string, 0, len(families))
	for _, f := range families {
		if slices.Equal(ordered[f], held[f]) {
			continue
		}
		diff = append(diff, fmt.Sprintf("%s order %s, vendor %s", f, quantities(ordered[f]), quantities(held[f])))
	}
	return diff
}

func quantities(q []int) string {
	if len(q) == 0 {
		return "0"
	}
	parts := make([]string, len(q))
	for i, n := range q {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "+")
}
