package watch

import (
	"strings"
	"time"
)

const activityDots = 5

// Activity lights up when events arrive and fades one dot every two
// seconds of silence.
type Activity struct {
	last time.Time
}

func (a *Activity) Observe(at time.Time) {
	a.last = at
}

func (a Activity) Last() time.Time {
	return a.last
}

// Lit is the number of dots shown at now.
func (a Activity) Lit(now time.Time) int {
	if a.last.IsZero() {
		return 0
	}
	lit := activityDots - int(now.Sub(a.last)/(2*time.Second))
	return max(lit, 0)
}

func (a Activity) Render(theme Theme, now time.Time) string {
	lit := a.Lit(now)
	var b strings.Builder
	for i := range activityDots {
		if i < lit {
			b.WriteString(theme.DotOn.Render("●"))
		} else {
			b.WriteString(theme.DotOff.Render("○"))
		}
	}
	return b.String()
}
