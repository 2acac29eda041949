package submissions

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"youposm/internal/rows"
	"youposm/internal/shared/util"
)

// KeyDeriver builds object keys of the form
// {store}/{employee}/{date}/{phase}/{HHMMSSffffff}_{8 hex}.{ext}.
// Timestamps it issues strictly increase, so keys never repeat within a process.
type KeyDeriver struct {
	lastMicros atomic.Int64
	now        func() time.Time
	suffix     func() string
}

// NewKeyDeriver returns a deriver reading the wall clock from now (time.Now when nil).
func NewKeyDeriver(now func() time.Time) *KeyDeriver {
	if now == nil {
		now = time.Now
	}
	return &KeyDeriver{now: now, suffix: randomSuffix}
}

// Derive returns the key for one image of a submission.
func (d *KeyDeriver) Derive(store, employee string, date time.Time, phase Phase, ext string) string {
	ts := time.UnixMicro(d.nextMicros()).UTC()
	stamp := strings.Replace(ts.Format("150405.000000"), ".", "", 1)

	return util.SanitizeSegment(store) + "/" +
		util.SanitizeSegment(employee) + "/" +
		date.Format(rows.DateLayout) + "/" +
		string(phase) + "/" +
		stamp + "_" + d.suffix() + "." + ext
}

func (d *KeyDeriver) nextMicros() int64 {
	for {
		now := d.now().UnixMicro()
		last := d.lastMicros.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if d.lastMicros.CompareAndSwap(last, next) {
			return next
		}
	}
}

func randomSuffix() string {
	return uuid.New().String()[:8]
}
