package metrics

import (
	"fmt"
	"strconv"
	"strings"
)

// queryEfficiency returns PromQL for the highest packing efficiency each
// rank reported within the window, as exported by Recorder.
func queryEfficiency(job string, capacity int, window string) string {
	var matchers []string
	if job != "" {
		matchers = append(matchers, fmt.Sprintf("job=%q", job))
	}
	if capacity > 0 {
		matchers = append(matchers, fmt.Sprintf("capacity=%q", strconv.Itoa(capacity)))
	}
	return fmt.Sprintf(`max by (job, rank, capacity) (
  max_over_time(%s_packing_efficiency{%s}[%s])
)`, namespace, strings.Join(matchers, ","), window)
}
