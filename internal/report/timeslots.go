package report

// Named time slots map a display label to a fixed set of hours of day.
var timeSlots = map[string][]int{
	"early_morning": {5, 6, 7, 8},
	"morning":       {9, 10, 11},
	"afternoon":     {12, 13, 14, 15, 16},
	"evening":       {17, 18, 19, 20, 21},
}

// SlotHours resolves a slot name to its hours. Unknown names resolve to
// nothing.
func SlotHours(name string) []int {
	return timeSlots[name]
}

// CombineHours intersects an inclusive hour range with the union of the
// named slots. A nil range or empty slot list places no restriction from
// that side; if neither restricts, nil is returned (meaning all hours).
// A non-nil empty result means the two sides intersect to nothing, which
// is distinct from nil: it matches no hour at all.
func CombineHours(hourFrom, hourTo *int, slots []string) []int {
	var rangeSet map[int]bool
	if hourFrom != nil || hourTo != nil {
		from, to := 0, 23
		if hourFrom != nil {
			from = *hourFrom
		}
		if hourTo != nil {
			to = *hourTo
		}
		rangeSet = make(map[int]bool)
		for h := from; h <= to && h <= 23; h++ {
			if h >= 0 {
				rangeSet[h] = true
			}
		}
	}

	var slotSet map[int]bool
	if len(slots) > 0 {
		slotSet = make(map[int]bool)
		for _, name := range slots {
			for _, h := range SlotHours(name) {
				slotSet[h] = true
			}
		}
	}

	if rangeSet == nil && slotSet == nil {
		return nil
	}

	hours := make([]int, 0, 24)
	for h := 0; h < 24; h++ {
		if rangeSet != nil && !rangeSet[h] {
			continue
		}
		if slotSet != nil && !slotSet[h] {
			continue
		}
		hours = append(hours, h)
	}
	return hours
}
