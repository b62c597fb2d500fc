package usage

import (
	"strconv"
	"strings"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// stateShutoff is virDomainState VIR_DOMAIN_SHUTOFF.
const stateShutoff = 5

// Compute turns one domain stats record into a usage sample.
//
// The average vCPU time divides the sum over the vCPUs that reported a
// time by vcpu.current, so a partial report underestimates the average.
// It is omitted when vcpu.current is missing or zero. Disk values that
// were not reported are NaN.
func Compute(params []golibvirt.TypedParam, now time.Time) v1alpha1.UsageSample {
	fields := make(map[string]interface{}, len(params))
	for _, p := range params {
		fields[p.Field] = p.Value.I
	}

	sample := v1alpha1.UsageSample{SampledAt: v1alpha1.Time{Time: now}}

	if v, ok := number(fields, "balloon.rss"); ok {
		sample.RSSMemory = v
	}
	if state, ok := number(fields, "state.state"); ok && state == stateShutoff {
		sample.RSSMemory = 0
	}

	if current, ok := number(fields, "vcpu.current"); ok && current > 0 {
		var total float64
		for field := range fields {
			if !strings.HasPrefix(field, "vcpu.") || !strings.HasSuffix(field, ".time") {
				continue
			}
			t, ok := number(fields, field)
			if !ok {
				continue
			}
			total += t
		}
		avg := total / current
		ms := now.UnixMilli()
		sample.CPUTime = &avg
		sample.ActualTimeInMs = &ms
	}

	if count, ok := number(fields, "block.count"); ok && count > 0 {
		sample.Disks = make(map[string]v1alpha1.DiskStats, int(count))
		for i := 0; i < int(count); i++ {
			prefix := "block." + strconv.Itoa(i) + "."
			name, _ := fields[prefix+"name"].(string)
			if name == "" {
				continue
			}
			sample.Disks[name] = v1alpha1.DiskStats{
				Physical:   gauge(fields, prefix+"physical"),
				Capacity:   gauge(fields, prefix+"capacity"),
				Allocation: gauge(fields, prefix+"allocation"),
			}
		}
	}

	return sample
}

func gauge(fields map[string]interface{}, field string) v1alpha1.Gauge {
	if v, ok := number(fields, field); ok {
		return v1alpha1.Gauge(v)
	}
	return v1alpha1.NaN()
}

// number reads a numeric typed parameter value.
func number(fields map[string]interface{}, field string) (float64, bool) {
	switch t := fields[field].(type) {
	case uint64:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint32:
		return float64(t), true
	case int32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
