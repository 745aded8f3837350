package intake

import (
	"fmt"
	"strings"
	"time"
)

const defaultDueTime = "11:59PM"

var dateLayouts = []string{"01/02/06", "01/02/2006"}

// ParseDue combines the user-supplied date and clock strings into an absolute
// instant in loc. The clock string is forgiving about case and spaces
// ("11:59 pm" works); empty means end of day.
func ParseDue(dateStr, timeStr string, loc *time.Location) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("due date is required")
	}

	var day time.Time
	var err error
	for _, layout := range dateLayouts {
		day, err = time.ParseInLocation(layout, dateStr, loc)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: use MM/DD/YY or MM/DD/YYYY", dateStr)
	}

	clock := normalizeClock(timeStr)
	if clock == "" {
		clock = defaultDueTime
	}
	t, err := time.ParseInLocation("3:04PM", clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: use forms like 9:00AM or 11:59PM", timeStr)
	}

	return time.Date(day.Year(), day.Month(), day.Day(),
		t.Hour(), t.Minute(), 0, 0, loc), nil
}

func normalizeClock(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
